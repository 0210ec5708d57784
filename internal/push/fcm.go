package push

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/franzego/salon-reminders/internal/metrics"
	"github.com/franzego/salon-reminders/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// maxMulticastTokens is the FCM limit for a single SendEachForMulticast call.
const maxMulticastTokens = 500

type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender delivers multicast messages through Firebase Cloud Messaging.
type FCMSender struct {
	client multicaster
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewFCMClient builds the messaging client from a service-account file. It
// is called once at process start.
func NewFCMClient(ctx context.Context, projectID, credentialsFile string) (*messaging.Client, error) {
	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, cfg, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return client, nil
}

func NewFCMSender(client multicaster, logger *zap.Logger) *FCMSender {
	return &FCMSender{
		client: client,
		cb:     circuitbreaker.NewCircuitBreaker("fcm", logger),
		logger: logger,
	}
}

// SendMulticast sends msg in provider-sized chunks. When a later chunk fails
// as a whole, the results of the chunks already delivered are returned
// together with the error.
func (s *FCMSender) SendMulticast(ctx context.Context, msg Message) (*BatchResult, error) {
	if len(msg.Tokens) == 0 {
		return nil, ErrNoTokens
	}

	out := &BatchResult{Responses: make([]TokenResult, 0, len(msg.Tokens))}
	for start := 0; start < len(msg.Tokens); start += maxMulticastTokens {
		end := min(start+maxMulticastTokens, len(msg.Tokens))
		chunk := msg.Tokens[start:end]

		resp, err := s.send(ctx, buildMulticast(msg, chunk))
		if err == nil && len(resp.Responses) != len(chunk) {
			err = fmt.Errorf("fcm returned %d responses for %d tokens", len(resp.Responses), len(chunk))
		}
		if err != nil {
			metrics.PushSendErrors.Inc()
			if start == 0 {
				return nil, err
			}
			s.recordTokens(out)
			return out, fmt.Errorf("%w after %d of %d tokens", err, start, len(msg.Tokens))
		}

		for i, r := range resp.Responses {
			tr := TokenResult{Token: chunk[i], Success: r.Success, MessageID: r.MessageID}
			if !r.Success {
				tr.ErrorCode = errorCode(r.Error)
				s.logger.Debug("token delivery failed",
					zap.String("code", tr.ErrorCode),
					zap.Error(r.Error),
				)
			}
			out.Responses = append(out.Responses, tr)
		}
		out.SuccessCount += resp.SuccessCount
		out.FailureCount += resp.FailureCount
	}

	s.recordTokens(out)
	return out, nil
}

func (s *FCMSender) recordTokens(out *BatchResult) {
	metrics.PushTokens.WithLabelValues("success").Add(float64(out.SuccessCount))
	metrics.PushTokens.WithLabelValues("failure").Add(float64(out.FailureCount))
}

func (s *FCMSender) send(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SendEachForMulticast(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("fcm multicast: %w", err)
	}
	return result.(*messaging.BatchResponse), nil
}

func buildMulticast(msg Message, tokens []string) *messaging.MulticastMessage {
	m := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}
	if msg.Link != "" {
		m.Webpush = &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: msg.Link},
		}
	}
	return m
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case messaging.IsUnregistered(err):
		return CodeTokenNotRegistered
	case messaging.IsInvalidArgument(err):
		return invalidArgumentCode(err)
	case messaging.IsQuotaExceeded(err):
		return CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		return CodeUnavailable
	case messaging.IsInternal(err):
		return CodeInternal
	}
	return CodeUnknown
}

// invalidArgumentCode splits INVALID_ARGUMENT into a bad token, which is
// permanent, and a bad message, which says nothing about the token.
func invalidArgumentCode(err error) string {
	if strings.Contains(strings.ToLower(err.Error()), "registration token") {
		return CodeInvalidToken
	}
	return CodeInvalidArgument
}
