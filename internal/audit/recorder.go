package audit

import (
	"context"
	"time"

	"github.com/franzego/salon-reminders/internal/models"
	"go.uber.org/zap"
)

type Inserter interface {
	InsertNotification(ctx context.Context, rec models.NotificationRecord) error
}

type Publisher interface {
	PublishAudit(ctx context.Context, message interface{}) error
}

// Recorder appends notification records to the store and, when a publisher
// is configured, fans each one out to the audit queue.
type Recorder struct {
	store     Inserter
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

func NewRecorder(store Inserter, publisher Publisher, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
}

// Record stamps rec with the current time and inserts it. A failed publish
// does not fail the record.
func (r *Recorder) Record(ctx context.Context, rec models.NotificationRecord) error {
	rec.SentAt = r.now().UTC()
	if rec.SentBy == "" {
		rec.SentBy = models.SenderSystem
	}
	if rec.Type != models.DeliveryTargeted {
		rec.TargetUserID = ""
	}

	if err := r.store.InsertNotification(ctx, rec); err != nil {
		return err
	}

	if r.publisher != nil {
		if err := r.publisher.PublishAudit(ctx, rec); err != nil {
			r.logger.Warn("failed to publish notification record",
				zap.String("target_user_id", rec.TargetUserID),
				zap.Error(err),
			)
		}
	}
	return nil
}
