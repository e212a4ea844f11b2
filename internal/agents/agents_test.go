package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingwatch/internal/config"
	"bookingwatch/internal/model"
)

var now = time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

type triggered struct {
	alertType model.AlertType
	severity  model.Severity
	metadata  map[string]any
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls []triggered
}

func (f *fakeTrigger) TriggerAlert(t model.AlertType, s model.Severity, _, _ string, meta map[string]any) model.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, triggered{alertType: t, severity: s, metadata: meta})
	return model.Alert{Type: t, Severity: s}
}

func newManager() (*Manager, *fakeTrigger) {
	trig := &fakeTrigger{}
	return NewManager(trig, nil, Options{Now: func() time.Time { return now }}), trig
}

func healthy(id string) model.BookingRecord {
	return model.BookingRecord{
		ID:                id,
		Status:            model.BookingConfirmed,
		HotelID:           "h-1",
		CheckIn:           now.Add(48 * time.Hour),
		CheckOut:          now.Add(96 * time.Hour),
		GuestName:         "Guest",
		GuestEmail:        "guest@example.com",
		TotalPrice:        200,
		Currency:          "EUR",
		PaymentStatus:     model.PaymentPaid,
		PaymentAmount:     200,
		CreatedAt:         now.Add(-time.Hour),
		ProviderBookingID: "prov-1",
	}
}

func issueTypes(issues []model.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Type)
	}
	return out
}

func TestStuckPendingBooking(t *testing.T) {
	m, trig := newManager()
	b := healthy("b-1")
	b.Status = model.BookingPending
	b.CreatedAt = now.Add(-2 * time.Hour)

	res, err := m.RunAgent(context.Background(), "booking_verifier", []model.BookingRecord{b})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ItemsChecked)
	require.Equal(t, 1, res.IssuesFound)
	assert.Equal(t, res.IssuesFound, len(res.Issues))
	assert.Equal(t, "stuck_pending_booking", res.Issues[0].Type)
	assert.Equal(t, model.SeverityHigh, res.Issues[0].Severity)

	require.Len(t, trig.calls, 1)
	assert.Equal(t, model.AlertBookingFailed, trig.calls[0].alertType)
	assert.Equal(t, "b-1", trig.calls[0].metadata["entity_id"])
	assert.Equal(t, "booking_verifier", trig.calls[0].metadata["source"])
}

func TestBookingVerifierChecks(t *testing.T) {
	confirmed := healthy("c")
	confirmed.ProviderBookingID = ""
	pastPending := healthy("p")
	pastPending.Status = model.BookingPending
	pastPending.CreatedAt = now.Add(-10 * time.Minute)
	pastPending.CheckIn = now.Add(-24 * time.Hour)

	issues := verifyBookings([]model.BookingRecord{healthy("ok"), confirmed, pastPending}, now)
	assert.ElementsMatch(t, []string{"missing_provider_booking_id", "past_checkin_pending"}, issueTypes(issues))
}

func TestUnrefundedCancellation(t *testing.T) {
	b := healthy("b-2")
	b.Status = model.BookingCancelled
	b.CancelledAt = now.Add(-25 * time.Hour)

	issues := checkCancellations([]model.BookingRecord{b}, now)
	assert.ElementsMatch(t, []string{"cancelled_not_refunded", "missing_cancellation_reason"}, issueTypes(issues))

	b.CancelledAt = now.Add(-2 * time.Hour)
	b.CancellationReason = "guest request"
	assert.Empty(t, checkCancellations([]model.BookingRecord{b}, now))
}

func TestPaymentReconciler(t *testing.T) {
	mismatch := healthy("m")
	mismatch.PaymentAmount = 197
	withinTolerance := healthy("w")
	withinTolerance.PaymentAmount = 199
	failed := healthy("f")
	failed.PaymentStatus = model.PaymentFailed
	completed := healthy("x")
	completed.Status = model.BookingCompleted
	completed.PaymentStatus = model.PaymentPending

	issues := reconcilePayments([]model.BookingRecord{mismatch, withinTolerance, failed, completed}, now)
	assert.ElementsMatch(t, []string{"payment_amount_mismatch", "confirmed_payment_failed", "completed_payment_pending"}, issueTypes(issues))
}

func TestPriceAndIntegrity(t *testing.T) {
	free := healthy("free")
	free.TotalPrice = 0
	assert.Equal(t, []string{"invalid_price"}, issueTypes(watchPrices([]model.BookingRecord{free, healthy("ok")}, now)))

	noEmail := healthy("e")
	noEmail.GuestEmail = " "
	backwards := healthy("d")
	backwards.CheckOut = backwards.CheckIn
	long := healthy("l")
	long.CheckOut = long.CheckIn.Add(31 * 24 * time.Hour)
	exactly30 := healthy("t")
	exactly30.CheckOut = exactly30.CheckIn.Add(30 * 24 * time.Hour)

	issues := checkIntegrity([]model.BookingRecord{noEmail, backwards, long, exactly30}, now)
	assert.ElementsMatch(t, []string{"missing_guest_email", "invalid_dates", "long_stay"}, issueTypes(issues))
}

func TestAlertTypeMapping(t *testing.T) {
	cases := map[string]model.AlertType{
		"stuck_pending_booking":    model.AlertBookingFailed,
		"cancelled_not_refunded":   model.AlertCancellationIssue,
		"payment_amount_mismatch":  model.AlertPaymentFailed,
		"invalid_price":            model.AlertPriceMismatch,
		"long_stay":                model.AlertDataIntegrity,
		"something_nobody_planned": model.AlertSystemError,
	}
	for issue, want := range cases {
		assert.Equal(t, want, AlertTypeFor(issue), issue)
	}
}

func TestBusyAgentReturnsFailedResult(t *testing.T) {
	m, _ := newManager()
	release := make(chan struct{})
	entered := make(chan struct{})
	m.SetCheck(model.AgentPriceWatcher, func([]model.BookingRecord, time.Time) []model.Issue {
		close(entered)
		<-release
		return nil
	})

	done := make(chan model.AgentResult)
	go func() {
		res, _ := m.RunAgent(context.Background(), "price_watcher", nil)
		done <- res
	}()
	<-entered

	busy, err := m.RunAgent(context.Background(), "price_watcher", nil)
	require.NoError(t, err)
	assert.False(t, busy.Success)
	assert.Equal(t, ErrAgentBusy.Error(), busy.Error)

	close(release)
	first := <-done
	assert.True(t, first.Success)

	m.SetCheck(model.AgentPriceWatcher, watchPrices)
	again, _ := m.RunAgent(context.Background(), "price_watcher", nil)
	assert.True(t, again.Success, "guard released after the run")
}

func TestPanickingAgentDoesNotStopOthers(t *testing.T) {
	m, _ := newManager()
	m.SetCheck(model.AgentBookingVerifier, func([]model.BookingRecord, time.Time) []model.Issue {
		panic("boom")
	})

	results := m.RunAllAgents(context.Background(), []model.BookingRecord{healthy("b")})
	require.Len(t, results, 5)
	assert.False(t, results[0].Success)
	assert.Empty(t, results[0].Issues)
	assert.Equal(t, 0, results[0].IssuesFound)
	for _, r := range results[1:] {
		assert.True(t, r.Success, r.AgentID)
	}

	agent, err := m.Agent("booking_verifier")
	require.NoError(t, err)
	require.NotNil(t, agent.LastResult)
	assert.False(t, agent.LastResult.Success)

	res, err := m.RunAgent(context.Background(), "booking_verifier", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestUnknownAgent(t *testing.T) {
	m, _ := newManager()
	_, err := m.RunAgent(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestConfigureDisablesAgent(t *testing.T) {
	m, _ := newManager()
	off := false
	m.Configure(config.AgentsConfig{Overrides: map[string]config.AgentOverride{
		"integrity_checker": {Enabled: &off},
		"price_watcher":     {Schedule: "*/5 * * * *"},
	}})
	results := m.RunAllAgents(context.Background(), nil)
	assert.Len(t, results, 4)
	pw, _ := m.Agent("price_watcher")
	assert.Equal(t, "*/5 * * * *", pw.Schedule)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	m, _ := newManager()
	m.Configure(config.AgentsConfig{Overrides: map[string]config.AgentOverride{
		"price_watcher": {Schedule: "not a schedule"},
	}})
	s := NewScheduler(m, BatchSourceFunc(func(context.Context) ([]model.BookingRecord, error) {
		return nil, errors.New("unused")
	}), nil)
	err := s.Reload()
	require.Error(t, err)
	assert.Len(t, s.NextRuns(), 4)
}

func TestSchedulerRunUsesSource(t *testing.T) {
	m, trig := newManager()
	b := healthy("b")
	b.TotalPrice = -1
	b.PaymentAmount = -1
	s := NewScheduler(m, BatchSourceFunc(func(context.Context) ([]model.BookingRecord, error) {
		return []model.BookingRecord{b}, nil
	}), nil)
	s.run("price_watcher")
	require.Len(t, trig.calls, 1)
	assert.Equal(t, model.AlertPriceMismatch, trig.calls[0].alertType)
}
