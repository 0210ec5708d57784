package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/franzego/salon-reminders/internal/models"
	"github.com/franzego/salon-reminders/internal/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- fakes ---

// memStore is an in-memory appointments + users collection.
type memStore struct {
	mu       sync.Mutex
	appts    map[string]*models.Appointment
	tokens   map[string][]string
	findErr  map[string]error
	markErr  map[string]error
	tokenErr error
	removals int
}

func newMemStore(appts ...models.Appointment) *memStore {
	s := &memStore{
		appts:   map[string]*models.Appointment{},
		tokens:  map[string][]string{},
		findErr: map[string]error{},
		markErr: map[string]error{},
	}
	for i := range appts {
		a := appts[i]
		s.appts[a.ID] = &a
	}
	return s
}

func flagPtr(a *models.Appointment, flag string) *bool {
	switch flag {
	case "notified1h":
		return &a.Notified1h
	case "notified24h":
		return &a.Notified24h
	case "notified48h":
		return &a.Notified48h
	}
	panic("unknown flag " + flag)
}

func (s *memStore) FindDue(_ context.Context, date, flag string) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.findErr[flag]; err != nil {
		return nil, err
	}
	var out []models.Appointment
	for _, a := range s.appts {
		if a.Date == date && !*flagPtr(a, flag) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) MarkNotified(_ context.Context, id, flag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErr[id]; err != nil {
		return false, err
	}
	f := flagPtr(s.appts[id], flag)
	if *f {
		return false, nil
	}
	*f = true
	return true, nil
}

func (s *memStore) ClientTokens(_ context.Context, clientID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return append([]string(nil), s.tokens[clientID]...), nil
}

func (s *memStore) RemoveTokens(_ context.Context, clientID string, remove []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removals++
	drop := map[string]bool{}
	for _, t := range remove {
		drop[t] = true
	}
	var kept []string
	for _, t := range s.tokens[clientID] {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	s.tokens[clientID] = kept
	return nil
}

func (s *memStore) get(id string) models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.appts[id]
}

// scriptedSender answers every token with success unless a code is scripted.
// With partial set, err is returned after the first partial tokens.
type scriptedSender struct {
	codes    map[string]string
	err      error
	partial  int
	messages []push.Message
}

func (f *scriptedSender) SendMulticast(_ context.Context, msg push.Message) (*push.BatchResult, error) {
	f.messages = append(f.messages, msg)
	tokens := msg.Tokens
	if f.err != nil {
		if f.partial == 0 {
			return nil, f.err
		}
		tokens = tokens[:f.partial]
	}
	res := &push.BatchResult{}
	for _, tok := range tokens {
		if code, ok := f.codes[tok]; ok {
			res.FailureCount++
			res.Responses = append(res.Responses, push.TokenResult{Token: tok, ErrorCode: code})
			continue
		}
		res.SuccessCount++
		res.Responses = append(res.Responses, push.TokenResult{Token: tok, Success: true})
	}
	return res, f.err
}

type recordLog struct {
	records []models.NotificationRecord
}

func (r *recordLog) Record(_ context.Context, rec models.NotificationRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Ready() bool {
	return m.Called().Bool(0)
}

func (m *MockDeliverer) Deliver(ctx context.Context, d push.Delivery) (*push.Result, error) {
	args := m.Called(ctx, d)
	res, _ := args.Get(0).(*push.Result)
	return res, args.Error(1)
}

func testOptions() Options {
	return Options{
		BusinessName:                  "Salon",
		Title:                         "Recordatorio de turno",
		Link:                          "/turnos",
		MarkNotifiedOnDispatchFailure: true,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, OperatingZone)
}

func ana(id, clock string) models.Appointment {
	return models.Appointment{
		ID:         id,
		Date:       "2025-03-10",
		Time:       clock,
		ClientID:   "client-1",
		ClientName: "Ana",
		Treatment:  "Corte",
	}
}

// pipeline wires the job to the real push service over fakes.
func pipeline(store *memStore, sender *scriptedSender, opts Options) (*Job, *recordLog) {
	records := &recordLog{}
	svc := push.NewService(sender, store, records, zap.NewNop())
	return NewJob(store, store, svc, opts, zap.NewNop()), records
}

// --- tests ---

func TestRun_OneHourReminderEndToEnd(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"))
	store.tokens["client-1"] = []string{"t1"}
	sender := &scriptedSender{}
	job, records := pipeline(store, sender, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	assert.True(t, store.get("a1").Notified1h)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, ItemResult{
		AppointmentID: "a1",
		Horizon:       "1h",
		Outcome:       OutcomeSent,
		Flagged:       true,
		SuccessCount:  1,
	}, summary.Results[0])

	require.Len(t, records.records, 1)
	rec := records.records[0]
	assert.Equal(t, models.DeliveryTargeted, rec.Type)
	assert.Equal(t, models.SenderSystem, rec.SentBy)
	assert.Equal(t, "client-1", rec.TargetUserID)
	assert.Equal(t, "Salon: Hola Ana, recordatorio de turno para Corte en 1 hora a las 14:00hs.", rec.Body)

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "/turnos", sender.messages[0].Link)
	assert.Equal(t, "a1", sender.messages[0].Data["appointmentId"])
}

func TestRun_FlaggedAppointmentIsNotRemindedAgain(t *testing.T) {
	// 14:30 sits inside both the 13:00 tick window [14:00,14:35) and the
	// 13:30 tick window [14:30,15:05)
	store := newMemStore(ana("a1", "14:30"))
	store.tokens["client-1"] = []string{"t1"}
	sender := &scriptedSender{}
	job, records := pipeline(store, sender, testOptions())

	_, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)
	summary, err := job.RunAt(context.Background(), at(10, 13, 30))
	require.NoError(t, err)

	assert.Empty(t, summary.Results)
	assert.Len(t, sender.messages, 1)
	assert.Len(t, records.records, 1)
}

func TestRun_PrunesUnregisteredToken(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"))
	store.tokens["client-1"] = []string{"t1", "t2"}
	sender := &scriptedSender{codes: map[string]string{"t1": push.CodeTokenNotRegistered}}
	job, _ := pipeline(store, sender, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	assert.Equal(t, []string{"t2"}, store.tokens["client-1"])
	assert.Equal(t, 1, summary.Results[0].RemovedTokens)
	assert.Equal(t, 1, summary.Results[0].FailureCount)
}

func TestRun_TransientFailuresLeaveProfileUntouched(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"))
	store.tokens["client-1"] = []string{"t1", "t2"}
	sender := &scriptedSender{codes: map[string]string{"t1": push.CodeUnavailable}}
	job, _ := pipeline(store, sender, testOptions())

	_, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	assert.Equal(t, 0, store.removals)
	assert.Equal(t, []string{"t1", "t2"}, store.tokens["client-1"])
}

func TestRun_WalkInIsFlaggedWithoutSending(t *testing.T) {
	walkIn := ana("a1", "14:00")
	walkIn.ClientID = ""
	store := newMemStore(walkIn)
	sender := &scriptedSender{}
	job, records := pipeline(store, sender, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoClient, summary.Results[0].Outcome)
	assert.True(t, store.get("a1").Notified1h)
	assert.Empty(t, sender.messages)
	assert.Empty(t, records.records)
}

func TestRun_NoTokensIsFlaggedWithoutSending(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"))
	sender := &scriptedSender{}
	job, records := pipeline(store, sender, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoTokens, summary.Results[0].Outcome)
	assert.True(t, store.get("a1").Notified1h)
	assert.Empty(t, sender.messages)
	assert.Empty(t, records.records)
}

func TestRun_ProfileLookupFailureIsTreatedAsNothingToSend(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"))
	store.tokenErr = errors.New("deadline exceeded")
	sender := &scriptedSender{}
	job, _ := pipeline(store, sender, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	assert.Equal(t, OutcomeResolveFailed, summary.Results[0].Outcome)
	assert.True(t, summary.Results[0].Flagged)
	assert.Empty(t, sender.messages)
}

func TestRun_DispatchFailureStillFlagsByDefault(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"), ana("a2", "14:10"))
	store.tokens["client-1"] = []string{"t1"}
	sender := &scriptedSender{err: errors.New("provider unavailable")}
	job, records := pipeline(store, sender, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		assert.Equal(t, OutcomeDispatchFailed, r.Outcome)
		assert.True(t, r.Flagged)
		assert.Contains(t, r.Error, "provider unavailable")
	}
	assert.True(t, store.get("a2").Notified1h)
	assert.Empty(t, records.records)
}

func TestRun_DispatchFailureLeavesPendingWhenConfigured(t *testing.T) {
	store := newMemStore(ana("a1", "14:30"))
	store.tokens["client-1"] = []string{"t1"}
	sender := &scriptedSender{err: errors.New("provider unavailable")}
	opts := testOptions()
	opts.MarkNotifiedOnDispatchFailure = false
	job, _ := pipeline(store, sender, opts)

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)
	assert.False(t, summary.Results[0].Flagged)
	assert.False(t, store.get("a1").Notified1h)

	// provider recovers; the next tick still covers 14:30
	sender.err = nil
	summary, err = job.RunAt(context.Background(), at(10, 13, 30))
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeSent, summary.Results[0].Outcome)
	assert.True(t, store.get("a1").Notified1h)
}

func TestRun_PartialDispatchIsFlaggedAndRecorded(t *testing.T) {
	store := newMemStore(ana("a1", "14:30"))
	store.tokens["client-1"] = []string{"t1", "t2"}
	sender := &scriptedSender{err: errors.New("provider unavailable"), partial: 1}
	opts := testOptions()
	opts.MarkNotifiedOnDispatchFailure = false
	job, records := pipeline(store, sender, opts)

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeDispatchFailed, summary.Results[0].Outcome)
	assert.Equal(t, 1, summary.Results[0].SuccessCount)
	assert.True(t, summary.Results[0].Flagged)
	assert.Len(t, records.records, 1)

	summary, err = job.RunAt(context.Background(), at(10, 13, 30))
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	assert.Len(t, sender.messages, 1)
}

func TestRun_ScanErrorDoesNotAbortOtherHorizons(t *testing.T) {
	tomorrow := ana("a2", "13:10")
	tomorrow.Date = "2025-03-11"
	store := newMemStore(ana("a1", "14:00"), tomorrow)
	store.tokens["client-1"] = []string{"t1"}
	store.findErr["notified1h"] = errors.New("query timeout")
	job, _ := pipeline(store, &scriptedSender{}, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	require.Len(t, summary.Scans, 3)
	assert.Contains(t, summary.Scans[0].Error, "query timeout")
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "a2", summary.Results[0].AppointmentID)
	assert.Equal(t, "24h", summary.Results[0].Horizon)
	assert.True(t, store.get("a2").Notified24h)
	assert.Equal(t, 1, summary.Errors())
}

func TestRun_FlagWriteFailureIsReportedPerItem(t *testing.T) {
	store := newMemStore(ana("a1", "14:00"), ana("a2", "14:05"))
	store.tokens["client-1"] = []string{"t1"}
	store.markErr["a1"] = errors.New("write conflict")
	job, _ := pipeline(store, &scriptedSender{}, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	assert.False(t, summary.Results[0].Flagged)
	assert.Contains(t, summary.Results[0].Error, "write conflict")
	assert.True(t, summary.Results[1].Flagged)
}

func TestRun_SkipsUnreadableTimes(t *testing.T) {
	store := newMemStore(ana("a1", "2pm"), ana("a2", "14:20"))
	store.tokens["client-1"] = []string{"t1"}
	job, _ := pipeline(store, &scriptedSender{}, testOptions())

	summary, err := job.RunAt(context.Background(), at(10, 13, 0))
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, "a2", summary.Results[0].AppointmentID)
	assert.False(t, store.get("a1").Notified1h)
}

func TestRun_DisabledDispatch(t *testing.T) {
	d := new(MockDeliverer)
	d.On("Ready").Return(false)
	job := NewJob(newMemStore(), newMemStore(), d, testOptions(), nil)

	_, err := job.RunAt(context.Background(), at(10, 13, 0))
	assert.ErrorIs(t, err, push.ErrDispatchDisabled)
	d.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	d := new(MockDeliverer)
	d.On("Ready").Return(true)
	store := newMemStore(ana("a1", "14:00"))
	job := NewJob(store, store, d, testOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := job.RunAt(ctx, at(10, 13, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Results)
	assert.False(t, store.get("a1").Notified1h)
}

func TestRun_DeliveryCarriesReminderPayload(t *testing.T) {
	d := new(MockDeliverer)
	d.On("Ready").Return(true)
	d.On("Deliver", mock.Anything, push.Delivery{
		Title:        "Recordatorio de turno",
		Body:         "Salon: Hola Ana, recordatorio de turno para Corte mañana a las 14:00hs.",
		Tokens:       []string{"t1"},
		TargetUserID: "client-1",
		SentBy:       models.SenderSystem,
		Type:         models.DeliveryTargeted,
		Link:         "/turnos",
		Data: map[string]string{
			"type":          models.ReminderDataType,
			"appointmentId": "a1",
			"horizon":       "24h",
		},
	}).Return(&push.Result{SuccessCount: 1}, nil).Once()

	appt := ana("a1", "14:00")
	appt.Date = "2025-03-11"
	store := newMemStore(appt)
	store.tokens["client-1"] = []string{"t1", "t1", ""}
	job := NewJob(store, store, d, testOptions(), nil)

	_, err := job.RunAt(context.Background(), at(10, 14, 0))
	require.NoError(t, err)
	d.AssertExpectations(t)
}

// countingDeliverer tallies sends per appointment and horizon.
type countingDeliverer struct {
	sends map[string]int
}

func (c *countingDeliverer) Ready() bool { return true }

func (c *countingDeliverer) Deliver(_ context.Context, d push.Delivery) (*push.Result, error) {
	c.sends[d.Data["appointmentId"]+"/"+d.Data["horizon"]]++
	return &push.Result{SuccessCount: len(d.Tokens)}, nil
}

func TestRun_FullDayOfTicksRemindsEachAppointmentOncePerHorizon(t *testing.T) {
	var appts []models.Appointment
	for m := 0; m < 24*60; m += 5 {
		appts = append(appts, models.Appointment{
			ID:         fmt.Sprintf("appt-%04d", m),
			Date:       "2025-03-10",
			Time:       fmt.Sprintf("%02d:%02d", m/60, m%60),
			ClientID:   "client-1",
			ClientName: "Ana",
			Treatment:  "Color",
		})
	}
	store := newMemStore(appts...)
	store.tokens["client-1"] = []string{"t1"}
	d := &countingDeliverer{sends: map[string]int{}}
	job := NewJob(store, store, d, testOptions(), nil)

	// on-time ticks every 30 minutes from three days before until the end of the day
	for tick := at(7, 0, 0); tick.Before(at(11, 0, 0)); tick = tick.Add(30 * time.Minute) {
		_, err := job.RunAt(context.Background(), tick)
		require.NoError(t, err)
	}

	for _, a := range appts {
		for _, h := range DefaultHorizons {
			key := a.ID + "/" + h.Name
			assert.Equal(t, 1, d.sends[key], key)
			assert.True(t, h.Notified(store.get(a.ID)), key)
		}
	}
	assert.Len(t, d.sends, len(appts)*len(DefaultHorizons))
}
