package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookingwatch/internal/model"
)

type countingRunner struct {
	batches chan []model.BookingRecord
}

func (r *countingRunner) RunAllAgents(_ context.Context, records []model.BookingRecord) []model.AgentResult {
	r.batches <- records
	return []model.AgentResult{{Success: true, IssuesFound: 1}}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan Batch, 1)
	ctx := context.Background()
	if !SendNonBlocking(ctx, out, Batch{Source: "a"}, nil) {
		t.Fatalf("first send should succeed")
	}
	if SendNonBlocking(ctx, out, Batch{Source: "b"}, nil) {
		t.Fatalf("second send should drop")
	}
}

func TestHandleMessageStoresLatest(t *testing.T) {
	latest := NewLatest(nil)
	out := make(chan Batch, 1)
	ok := handleMessage(context.Background(), []byte(`[{"id":"b1","status":"pending"},{"nope":true}]`), "kafka", latest, out, nil)
	if !ok {
		t.Fatalf("expected batch to decode")
	}
	b, found := latest.Get()
	if !found || len(b.Records) != 1 || b.Records[0].ID != "b1" {
		t.Fatalf("unexpected latest batch %+v", b)
	}
	if got := <-out; got.Source != "kafka" {
		t.Fatalf("unexpected source %q", got.Source)
	}
	if handleMessage(context.Background(), []byte("not json"), "kafka", latest, nil, nil) {
		t.Fatalf("garbage should not decode")
	}
}

func TestLatestFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	if err := os.WriteFile(path, []byte(`{"bookings":[{"id":"f1"},{"id":"f2"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	latest := NewLatest(FileSource{Path: path})
	recs, err := latest.Bookings(context.Background())
	if err != nil || len(recs) != 2 {
		t.Fatalf("fallback read: %v, %d records", err, len(recs))
	}
	latest.Set(Batch{Records: []model.BookingRecord{{ID: "k1"}}})
	recs, _ = latest.Bookings(context.Background())
	if len(recs) != 1 || recs[0].ID != "k1" {
		t.Fatalf("latest batch should win")
	}
}

func TestFileSourceMissing(t *testing.T) {
	if _, err := (FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}).Bookings(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWatchSnapshotFeedsConsumer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	if err := os.WriteFile(path, []byte(`[{"id":"w1"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Batch, 4)
	runner := &countingRunner{batches: make(chan []model.BookingRecord, 4)}
	go Consume(ctx, out, runner, nil)
	WatchSnapshot(ctx, path, 10*time.Millisecond, NewLatest(nil), out, nil)

	select {
	case recs := <-runner.batches:
		if len(recs) != 1 || recs[0].ID != "w1" {
			t.Fatalf("unexpected records %+v", recs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("snapshot never reached the runner")
	}
}

func TestHTTPHandler(t *testing.T) {
	latest := NewLatest(nil)
	h := NewHTTPHandler(latest, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/bookings", strings.NewReader(`[{"id":"r1"},{}]`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"accepted":1`) || !strings.Contains(rec.Body.String(), `"failed":1`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if b, ok := latest.Get(); !ok || b.Source != "rest" {
		t.Fatalf("latest not updated")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/bookings", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/bookings", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}
