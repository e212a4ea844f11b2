package alerts

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingwatch/internal/model"
)

func alertAt(id string, ts time.Time, typ model.AlertType, sev model.Severity) model.Alert {
	return model.Alert{ID: id, Timestamp: ts, Type: typ, Severity: sev}
}

func TestAddEvictsOldest(t *testing.T) {
	s := NewStore(3)
	base := time.Now()
	for i := 0; i < 4; i++ {
		s.Add(alertAt(fmt.Sprintf("a%d", i), base.Add(time.Duration(i)*time.Second), model.AlertBookingFailed, model.SeverityHigh))
	}
	list := s.List(Filter{})
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a3", "a2", "a1"}, []string{list[0].ID, list[1].ID, list[2].ID})
	_, ok := s.Get("a0")
	assert.False(t, ok)
}

func TestListFilters(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Add(alertAt("a", base, model.AlertBookingFailed, model.SeverityHigh))
	s.Add(alertAt("b", base.Add(time.Hour), model.AlertPaymentFailed, model.SeverityCritical))
	s.Add(alertAt("c", base.Add(2*time.Hour), model.AlertPaymentFailed, model.SeverityCritical))
	s.Resolve("c", "ops", base.Add(3*time.Hour))

	assert.Len(t, s.List(Filter{Type: model.AlertPaymentFailed}), 2)
	assert.Len(t, s.List(Filter{Severity: model.SeverityHigh}), 1)

	unresolved := false
	open := s.List(Filter{Resolved: &unresolved})
	assert.Len(t, open, 2)

	window := s.List(Filter{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)})
	require.Len(t, window, 1)
	assert.Equal(t, "b", window[0].ID)

	assert.Len(t, s.List(Filter{Limit: 1}), 1)
}

func TestResolveIsOneWay(t *testing.T) {
	s := NewStore(10)
	s.Add(alertAt("a", time.Now(), model.AlertAuthFailure, model.SeverityHigh))
	at := time.Now()

	a, changed := s.Resolve("a", "alice", at)
	assert.True(t, changed)
	assert.True(t, a.Resolved)
	assert.Equal(t, "alice", a.ResolvedBy)

	a, changed = s.Resolve("a", "bob", at.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, "alice", a.ResolvedBy)

	_, changed = s.Resolve("missing", "bob", at)
	assert.False(t, changed)
}

func TestStats(t *testing.T) {
	s := NewStore(10)
	now := time.Now()
	s.Add(alertAt("old", now.Add(-48*time.Hour), model.AlertBookingFailed, model.SeverityHigh))
	s.Add(alertAt("new", now.Add(-time.Hour), model.AlertPriceMismatch, model.SeverityMedium))
	s.Resolve("old", "ops", now)

	st := s.Stats(now)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Unresolved)
	assert.Equal(t, 1, st.Last24h)
	assert.Equal(t, 1, st.BySeverity[model.SeverityMedium])
	assert.Equal(t, 1, st.ByType[model.AlertBookingFailed])
}
