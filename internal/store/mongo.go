// Package store is the document-store access layer for appointments, client
// profiles and notification records.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/franzego/salon-reminders/internal/config"
	"github.com/franzego/salon-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var flagField = regexp.MustCompile(`^notified\d+h$`)

var ErrUnknownFlag = errors.New("unknown notification flag")

// Connect opens the client and fails fast if the deployment is unreachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(5*time.Second).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	return client, nil
}

type Store struct {
	client        *mongo.Client
	appointments  *mongo.Collection
	users         *mongo.Collection
	notifications *mongo.Collection
}

func New(client *mongo.Client, cfg config.MongoConfig) *Store {
	db := client.Database(cfg.Database)
	return &Store{
		client:        client,
		appointments:  db.Collection(cfg.AppointmentsCollection),
		users:         db.Collection(cfg.UsersCollection),
		notifications: db.Collection(cfg.NotificationsCollection),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// FindDue returns the appointments on date whose flag is not yet true.
func (s *Store) FindDue(ctx context.Context, date, flag string) ([]models.Appointment, error) {
	filter, err := dueFilter(date, flag)
	if err != nil {
		return nil, err
	}
	cur, err := s.appointments.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find due appointments: %w", err)
	}
	var out []models.Appointment
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode due appointments: %w", err)
	}
	return out, nil
}

// MarkNotified sets flag to true on a single appointment. The update is
// conditional on the flag not already being set, so it never rewrites a
// handled horizon. It reports whether this call flipped the flag.
func (s *Store) MarkNotified(ctx context.Context, appointmentID, flag string) (bool, error) {
	filter, update, err := markFilter(appointmentID, flag)
	if err != nil {
		return false, err
	}
	res, err := s.appointments.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mark %s on appointment %s: %w", flag, appointmentID, err)
	}
	return res.ModifiedCount == 1, nil
}

// ClientTokens returns the registered push tokens of a client. A missing
// profile yields no tokens.
func (s *Store) ClientTokens(ctx context.Context, clientID string) ([]string, error) {
	res := s.users.FindOne(ctx, bson.M{"_id": clientID},
		options.FindOne().SetProjection(bson.M{"fcmTokens": 1}))
	tokens, err := decodeTokens(res)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", clientID, err)
	}
	return tokens, nil
}

// RemoveTokens pulls exactly the given values from the client's token set.
func (s *Store) RemoveTokens(ctx context.Context, clientID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": clientID}, pullTokens(tokens))
	if err != nil {
		return fmt.Errorf("remove tokens from %s: %w", clientID, err)
	}
	return nil
}

// InsertNotification appends an audit record.
func (s *Store) InsertNotification(ctx context.Context, rec models.NotificationRecord) error {
	if _, err := s.notifications.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func dueFilter(date, flag string) (bson.M, error) {
	if !flagField.MatchString(flag) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	// $ne also matches documents that predate the flag field
	return bson.M{
		"date": date,
		flag:   bson.M{"$ne": true},
	}, nil
}

// markFilter only matches while the flag is unset, so a handled horizon is
// never rewritten.
func markFilter(appointmentID, flag string) (bson.M, bson.M, error) {
	if !flagField.MatchString(flag) {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	return bson.M{"_id": appointmentID, flag: bson.M{"$ne": true}},
		bson.M{"$set": bson.M{flag: true}},
		nil
}

// decodeTokens treats a missing profile as a client with no tokens.
func decodeTokens(res *mongo.SingleResult) ([]string, error) {
	var profile models.ClientProfile
	err := res.Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile.FCMTokens, nil
}

func pullTokens(tokens []string) bson.M {
	return bson.M{"$pullAll": bson.M{"fcmTokens": tokens}}
}
