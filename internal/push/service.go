package push

import (
	"context"
	"fmt"

	"github.com/franzego/salon-reminders/internal/models"
	"go.uber.org/zap"
)

// Recorder appends the audit entry for a dispatch.
type Recorder interface {
	Record(ctx context.Context, rec models.NotificationRecord) error
}

// Delivery describes one send. TargetUserID is the owner of Tokens and is
// required for token pruning.
type Delivery struct {
	Title        string
	Body         string
	Tokens       []string
	TargetUserID string
	SentBy       string
	Type         string
	Link         string
	Data         map[string]string
}

type Result struct {
	SuccessCount  int
	FailureCount  int
	RemovedTokens []string
}

// Service runs send, reconcile and record for both the reminder job and the
// send endpoint.
type Service struct {
	sender     Sender
	reconciler *Reconciler
	recorder   Recorder
	logger     *zap.Logger
}

// NewService returns a service; a nil sender leaves it permanently not ready.
func NewService(sender Sender, tokens TokenStore, recorder Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sender:     sender,
		reconciler: NewReconciler(tokens, logger),
		recorder:   recorder,
		logger:     logger,
	}
}

func (s *Service) Ready() bool {
	return s != nil && s.sender != nil
}

// Deliver sends d and then prunes invalid tokens and writes the audit
// record. Only a failure of the send itself is returned; pruning and
// recording failures are logged. When the send failed after some tokens
// were delivered, those are still reconciled and recorded and the partial
// Result is returned with the error.
func (s *Service) Deliver(ctx context.Context, d Delivery) (*Result, error) {
	if !s.Ready() {
		return nil, ErrDispatchDisabled
	}
	if len(d.Tokens) == 0 {
		return nil, ErrNoTokens
	}

	res, sendErr := s.sender.SendMulticast(ctx, Message{
		Title:  d.Title,
		Body:   d.Body,
		Tokens: d.Tokens,
		Data:   d.Data,
		Link:   d.Link,
	})
	if sendErr != nil {
		if res == nil || len(res.Responses) == 0 {
			return nil, fmt.Errorf("send multicast: %w", sendErr)
		}
		sendErr = fmt.Errorf("send multicast: %w", sendErr)
		s.logger.Warn("multicast delivered partially",
			zap.String("target_user_id", d.TargetUserID),
			zap.Int("delivered", len(res.Responses)),
			zap.Int("tokens", len(d.Tokens)),
			zap.Error(sendErr),
		)
	}

	removed := s.reconciler.Reconcile(ctx, d.TargetUserID, d.Tokens, res)

	rec := models.NotificationRecord{
		Title:        d.Title,
		Body:         d.Body,
		SentBy:       d.SentBy,
		Type:         d.Type,
		TargetUserID: d.TargetUserID,
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Error("failed to record notification",
			zap.String("target_user_id", d.TargetUserID),
			zap.Error(err),
		)
	}

	return &Result{
		SuccessCount:  res.SuccessCount,
		FailureCount:  res.FailureCount,
		RemovedTokens: removed,
	}, sendErr
}
