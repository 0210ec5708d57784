// Package reminder implements the appointment reminder job. Every tick it
// walks the configured horizons, finds appointments entering the horizon's
// window, sends each client a push reminder and flags the appointment so the
// horizon is never reminded twice.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/franzego/salon-reminders/internal/metrics"
	"github.com/franzego/salon-reminders/internal/models"
	"github.com/franzego/salon-reminders/internal/push"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deliverer is the send, reconcile and record pipeline.
type Deliverer interface {
	Ready() bool
	Deliver(ctx context.Context, d push.Delivery) (*push.Result, error)
}

type Options struct {
	Horizons      []Horizon
	WindowMinutes int
	BusinessName  string
	Title         string
	Link          string
	// MarkNotifiedOnDispatchFailure flags an appointment even when the
	// multicast send itself failed. When false the appointment stays pending
	// and is retried by the next tick whose window still covers it.
	MarkNotifiedOnDispatchFailure bool
}

type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeNoClient       Outcome = "no_client"
	OutcomeNoTokens       Outcome = "no_tokens"
	OutcomeResolveFailed  Outcome = "resolve_failed"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// ItemResult is what happened to one (appointment, horizon) pair.
type ItemResult struct {
	AppointmentID string  `json:"appointmentId"`
	Horizon       string  `json:"horizon"`
	Outcome       Outcome `json:"outcome"`
	Flagged       bool    `json:"flagged"`
	SuccessCount  int     `json:"successCount"`
	FailureCount  int     `json:"failureCount"`
	RemovedTokens int     `json:"removedTokens"`
	Error         string  `json:"error,omitempty"`
}

// HorizonScan describes the window one horizon looked at.
type HorizonScan struct {
	Horizon string `json:"horizon"`
	Date    string `json:"date"`
	Window  string `json:"window"`
	Due     int    `json:"due"`
	Error   string `json:"error,omitempty"`
}

type RunSummary struct {
	RunID         string        `json:"runId"`
	ReferenceTime time.Time     `json:"referenceTime"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
	Scans         []HorizonScan `json:"scans"`
	Results       []ItemResult  `json:"results"`
}

func (s *RunSummary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Errors counts failed scans and items that carry an error.
func (s *RunSummary) Errors() int {
	n := 0
	for _, sc := range s.Scans {
		if sc.Error != "" {
			n++
		}
	}
	for _, r := range s.Results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

type Job struct {
	appointments AppointmentStore
	scanner      *Scanner
	resolver     *Resolver
	delivery     Deliverer
	opts         Options
	now          func() time.Time
	logger       *zap.Logger
}

func NewJob(appointments AppointmentStore, profiles ProfileStore, delivery Deliverer, opts Options, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Horizons) == 0 {
		opts.Horizons = DefaultHorizons
	}
	if opts.WindowMinutes <= 0 {
		opts.WindowMinutes = DefaultWindowMinutes
	}
	return &Job{
		appointments: appointments,
		scanner:      NewScanner(appointments, opts.WindowMinutes, logger),
		resolver:     NewResolver(profiles),
		delivery:     delivery,
		opts:         opts,
		now:          time.Now,
		logger:       logger,
	}
}

func (j *Job) Run(ctx context.Context) (*RunSummary, error) {
	return j.RunAt(ctx, j.now())
}

// RunAt executes one tick as if the current time were now. Per-appointment
// failures are folded into the summary; only a disabled dispatcher or a
// cancelled context are returned as errors.
func (j *Job) RunAt(ctx context.Context, now time.Time) (*RunSummary, error) {
	if !j.delivery.Ready() {
		return nil, push.ErrDispatchDisabled
	}

	summary := &RunSummary{
		RunID:         uuid.New().String(),
		ReferenceTime: now,
		StartedAt:     time.Now(),
	}
	log := j.logger.With(zap.String("run_id", summary.RunID))
	defer func() {
		summary.FinishedAt = time.Now()
		metrics.ReminderRunDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	}()

	for _, h := range j.opts.Horizons {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		target, err := TargetFor(now, h.Hours)
		if err != nil {
			summary.Scans = append(summary.Scans, HorizonScan{Horizon: h.Name, Error: err.Error()})
			log.Error("invalid horizon", zap.String("horizon", h.Name), zap.Error(err))
			continue
		}

		scan := HorizonScan{
			Horizon: h.Name,
			Date:    target.Date,
			Window:  target.Window(j.opts.WindowMinutes).String(),
		}
		due, err := j.scanner.Scan(ctx, target, h)
		if err != nil {
			scan.Error = err.Error()
			summary.Scans = append(summary.Scans, scan)
			log.Error("horizon scan failed", zap.String("horizon", h.Name), zap.Error(err))
			continue
		}
		scan.Due = len(due)
		summary.Scans = append(summary.Scans, scan)

		for _, a := range due {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Results = append(summary.Results, j.process(ctx, log, a, h))
		}
	}

	log.Info("reminder run complete",
		zap.Int("sent", summary.Count(OutcomeSent)),
		zap.Int("no_client", summary.Count(OutcomeNoClient)),
		zap.Int("no_tokens", summary.Count(OutcomeNoTokens)),
		zap.Int("dispatch_failed", summary.Count(OutcomeDispatchFailed)),
		zap.Int("errors", summary.Errors()),
	)
	return summary, nil
}

// process moves one pair from DUE to DISPATCHED.
func (j *Job) process(ctx context.Context, log *zap.Logger, a models.Appointment, h Horizon) ItemResult {
	res := ItemResult{AppointmentID: a.ID, Horizon: h.Name}
	log = log.With(
		zap.String("appointment_id", a.ID),
		zap.String("horizon", h.Name),
		zap.String("client_id", a.ClientID),
	)
	defer func() {
		metrics.RemindersProcessed.WithLabelValues(h.Name, string(res.Outcome)).Inc()
	}()

	tokens, err := j.resolver.Tokens(ctx, a.ClientID)
	switch {
	case a.ClientID == "":
		res.Outcome = OutcomeNoClient
	case err != nil:
		res.Outcome = OutcomeResolveFailed
		log.Warn("could not load client tokens, treating as nothing to send", zap.Error(err))
	case len(tokens) == 0:
		res.Outcome = OutcomeNoTokens
	default:
		delivered, err := j.delivery.Deliver(ctx, push.Delivery{
			Title:        j.opts.Title,
			Body:         RenderBody(j.opts.BusinessName, a, h),
			Tokens:       tokens,
			TargetUserID: a.ClientID,
			SentBy:       models.SenderSystem,
			Type:         models.DeliveryTargeted,
			Link:         j.opts.Link,
			Data:         reminderData(a, h),
		})
		if delivered != nil {
			res.SuccessCount = delivered.SuccessCount
			res.FailureCount = delivered.FailureCount
			res.RemovedTokens = len(delivered.RemovedTokens)
		}
		if err != nil {
			res.Outcome = OutcomeDispatchFailed
			res.Error = err.Error()
			log.Error("reminder dispatch failed", zap.Error(err))
			// a retry would reach devices that already got this reminder
			if !j.opts.MarkNotifiedOnDispatchFailure && res.SuccessCount == 0 {
				return res
			}
			break
		}
		res.Outcome = OutcomeSent
	}

	flipped, err := j.appointments.MarkNotified(ctx, a.ID, h.Flag)
	if err != nil {
		res.Error = errors.Join(errorOrNil(res.Error), err).Error()
		log.Error("failed to flag appointment as notified", zap.Error(err))
		return res
	}
	if !flipped {
		log.Warn("appointment was already flagged by another writer")
	}
	res.Flagged = true
	return res
}

func errorOrNil(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
