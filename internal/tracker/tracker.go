package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/metrics"
	"bookingwatch/internal/model"
)

var (
	ErrRequestNotFound  = errors.New("request not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrRequestFinalized = errors.New("request already finished")
	ErrStepFinalized    = errors.New("step already finished")
)

// OutcomeRecorder receives every finished request. engine.Engine satisfies it.
type OutcomeRecorder interface {
	RecordOutcome(requestType model.RequestType, success bool, duration time.Duration)
}

// Correlation carries the ids a request is linked to.
type Correlation struct {
	UserID    string
	SessionID string
	BookingID string
	HotelID   string
	Metadata  map[string]any
}

type Options struct {
	StoreLimit int
	Recorder   OutcomeRecorder
	Metrics    *metrics.Collector
	Logger     *slog.Logger
	Now        func() time.Time
}

type Tracker struct {
	events   *eventlog.Logger
	recorder OutcomeRecorder
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
	limit    int

	mu       sync.RWMutex
	requests map[string]*model.TrackedRequest
	order    []string
}

func New(events *eventlog.Logger, opts Options) *Tracker {
	if opts.StoreLimit <= 0 {
		opts.StoreLimit = 1000
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		events:   events,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		limit:    opts.StoreLimit,
		requests: make(map[string]*model.TrackedRequest),
	}
}

func categoryFor(rt model.RequestType) model.Category {
	switch rt {
	case model.RequestSearch, model.RequestPrebook, model.RequestBook, model.RequestCancel,
		model.RequestPaymentProcess, model.RequestPaymentRefund:
		return model.CategoryBooking
	case model.RequestAuth:
		return model.CategoryAuth
	}
	return model.CategoryAPI
}

// StartRequest registers a new request and returns its id. A parent that is
// no longer tracked is still recorded as the parent id.
func (t *Tracker) StartRequest(requestType model.RequestType, corr Correlation, parentID string) string {
	now := t.now()
	req := &model.TrackedRequest{
		ID:              uuid.New().String(),
		Type:            requestType,
		Status:          model.StatusStarted,
		StartedAt:       now,
		Steps:           []model.RequestStep{},
		ParentRequestID: parentID,
		UserID:          corr.UserID,
		SessionID:       corr.SessionID,
		BookingID:       corr.BookingID,
		HotelID:         corr.HotelID,
		Metadata:        cloneMap(corr.Metadata),
	}

	t.mu.Lock()
	for len(t.order) >= t.limit {
		delete(t.requests, t.order[0])
		t.order = t.order[1:]
	}
	t.requests[req.ID] = req
	t.order = append(t.order, req.ID)
	if parentID != "" {
		if parent, ok := t.requests[parentID]; ok {
			parent.ChildRequestIDs = append(parent.ChildRequestIDs, req.ID)
		}
	}
	t.mu.Unlock()

	t.metrics.RequestStatus(string(requestType), string(model.StatusStarted))
	t.logEntry(model.LevelInfo, req, "request started", "", map[string]any{"parent_request_id": parentID})
	return req.ID
}

// StartStep appends a processing step and returns its id.
func (t *Tracker) StartStep(requestID, name string, input any) (string, error) {
	t.mu.Lock()
	req, err := t.mutable(requestID)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	step := model.RequestStep{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    model.StepProcessing,
		StartedAt: t.now(),
		Input:     input,
	}
	req.Steps = append(req.Steps, step)
	req.CurrentStep = name
	changed := advance(req, model.StatusProcessing)
	snapshot := *req
	t.mu.Unlock()

	if changed {
		t.metrics.RequestStatus(string(snapshot.Type), string(snapshot.Status))
	}
	t.logEntry(model.LevelDebug, &snapshot, "step started: "+name, "", map[string]any{"step_id": step.ID})
	return step.ID, nil
}

func (t *Tracker) CompleteStep(requestID, stepID string, output any) error {
	return t.finishStep(requestID, stepID, model.StepCompleted, output, "")
}

func (t *Tracker) FailStep(requestID, stepID string, stepErr error) error {
	return t.finishStep(requestID, stepID, model.StepFailed, nil, errText(stepErr))
}

func (t *Tracker) finishStep(requestID, stepID string, status model.StepStatus, output any, errMsg string) error {
	t.mu.Lock()
	req, err := t.mutable(requestID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	idx := -1
	for i := range req.Steps {
		if req.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", requestID, stepID, ErrStepNotFound)
	}
	step := &req.Steps[idx]
	if step.Status != model.StepProcessing {
		t.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", requestID, stepID, ErrStepFinalized)
	}
	now := t.now()
	step.Status = status
	step.CompletedAt = now
	step.Duration = now.Sub(step.StartedAt)
	step.Output = output
	step.Error = errMsg
	finished := *step
	snapshot := *req
	t.mu.Unlock()

	meta := map[string]any{"step_id": finished.ID, "duration_ms": finished.Duration.Milliseconds()}
	if status == model.StepFailed {
		t.logEntry(model.LevelError, &snapshot, "step failed: "+finished.Name, errMsg, meta)
		return nil
	}
	t.logEntry(model.LevelDebug, &snapshot, "step completed: "+finished.Name, "", meta)
	return nil
}

// SetWaitingExternal marks the request as blocked on an external service.
func (t *Tracker) SetWaitingExternal(requestID, service string) error {
	t.mu.Lock()
	req, err := t.mutable(requestID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	req.WaitingOn = service
	changed := advance(req, model.StatusWaitingExternal)
	snapshot := *req
	t.mu.Unlock()

	if changed {
		t.metrics.RequestStatus(string(snapshot.Type), string(snapshot.Status))
	}
	t.logEntry(model.LevelInfo, &snapshot, "waiting on "+service, "", nil)
	return nil
}

func (t *Tracker) CompleteRequest(requestID string, result any) error {
	return t.finish(requestID, model.StatusCompleted, result, "")
}

func (t *Tracker) FailRequest(requestID string, reqErr error) error {
	return t.finish(requestID, model.StatusFailed, nil, errText(reqErr))
}

// CancelRequest ends a request the caller abandoned.
func (t *Tracker) CancelRequest(requestID, reason string) error {
	return t.finish(requestID, model.StatusCancelled, nil, reason)
}

// TimeoutRequest ends a request the caller gave up on after the given wait.
func (t *Tracker) TimeoutRequest(requestID string, after time.Duration) error {
	return t.finish(requestID, model.StatusTimeout, nil, fmt.Sprintf("timed out after %s", after))
}

func (t *Tracker) finish(requestID string, status model.RequestStatus, result any, errMsg string) error {
	t.mu.Lock()
	req, err := t.mutable(requestID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	now := t.now()
	req.Status = status
	req.CompletedAt = now
	req.Duration = now.Sub(req.StartedAt)
	req.Result = result
	req.Error = errMsg
	req.CurrentStep = ""
	req.WaitingOn = ""
	snapshot := *req
	recorder := t.recorder
	t.mu.Unlock()

	t.metrics.RequestStatus(string(snapshot.Type), string(status))
	t.metrics.RequestFinished(string(snapshot.Type), snapshot.Duration.Seconds())
	if recorder != nil {
		recorder.RecordOutcome(snapshot.Type, status == model.StatusCompleted, snapshot.Duration)
	}
	level := model.LevelInfo
	if status != model.StatusCompleted {
		level = model.LevelError
	}
	t.logEntry(level, &snapshot, "request "+string(status), errMsg, map[string]any{
		"duration_ms": snapshot.Duration.Milliseconds(),
		"steps":       len(snapshot.Steps),
	})
	return nil
}

// mutable returns the live request if it may still change. Caller holds t.mu.
func (t *Tracker) mutable(requestID string) (*model.TrackedRequest, error) {
	req, ok := t.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", requestID, ErrRequestNotFound)
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("%s: %w", requestID, ErrRequestFinalized)
	}
	return req, nil
}

// advance moves status forward only.
func advance(req *model.TrackedRequest, next model.RequestStatus) bool {
	if next.Rank() <= req.Status.Rank() {
		return false
	}
	req.Status = next
	return true
}

// Request returns a copy of the tracked request.
func (t *Tracker) Request(requestID string) (model.TrackedRequest, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	req, ok := t.requests[requestID]
	if !ok {
		return model.TrackedRequest{}, fmt.Errorf("%s: %w", requestID, ErrRequestNotFound)
	}
	return clone(req), nil
}

// RequestChain walks to the root of the request tree and returns the whole
// tree depth-first, root first. Untracked ancestors end the upward walk and
// untracked children are skipped.
func (t *Tracker) RequestChain(requestID string) []model.TrackedRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur, ok := t.requests[requestID]
	if !ok {
		return nil
	}
	seen := map[string]bool{cur.ID: true}
	for cur.ParentRequestID != "" {
		parent, ok := t.requests[cur.ParentRequestID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		cur = parent
	}

	out := make([]model.TrackedRequest, 0)
	visited := make(map[string]bool)
	var walk func(r *model.TrackedRequest)
	walk = func(r *model.TrackedRequest) {
		if visited[r.ID] {
			return
		}
		visited[r.ID] = true
		out = append(out, clone(r))
		for _, id := range r.ChildRequestIDs {
			if child, ok := t.requests[id]; ok {
				walk(child)
			}
		}
	}
	walk(cur)
	return out
}

type Stats struct {
	Total       int                                 `json:"total"`
	Active      int                                 `json:"active"`
	ByType      map[model.RequestType]int           `json:"by_type"`
	ByStatus    map[model.RequestStatus]int         `json:"by_status"`
	AvgDuration map[model.RequestType]time.Duration `json:"avg_duration"`
}

// Stats aggregates the live buffer. Averages only count finished requests.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := Stats{
		Total:       len(t.requests),
		ByType:      make(map[model.RequestType]int),
		ByStatus:    make(map[model.RequestStatus]int),
		AvgDuration: make(map[model.RequestType]time.Duration),
	}
	sums := make(map[model.RequestType]time.Duration)
	counts := make(map[model.RequestType]int)
	for _, r := range t.requests {
		st.ByType[r.Type]++
		st.ByStatus[r.Status]++
		if !r.Status.Terminal() {
			st.Active++
			continue
		}
		sums[r.Type] += r.Duration
		counts[r.Type]++
	}
	for rt, sum := range sums {
		st.AvgDuration[rt] = sum / time.Duration(counts[rt])
	}
	return st
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.requests = make(map[string]*model.TrackedRequest)
	t.order = nil
	t.mu.Unlock()
}

func (t *Tracker) logEntry(level model.Level, req *model.TrackedRequest, action, errMsg string, meta map[string]any) {
	if t.events == nil {
		if t.logger != nil {
			t.logger.Debug(action, "request_id", req.ID, "type", req.Type, "status", req.Status)
		}
		return
	}
	m := map[string]any{
		"request_type": string(req.Type),
		"status":       string(req.Status),
	}
	if req.BookingID != "" {
		m["booking_id"] = req.BookingID
	}
	if req.HotelID != "" {
		m["hotel_id"] = req.HotelID
	}
	for k, v := range meta {
		if v != "" {
			m[k] = v
		}
	}
	t.events.Log(model.LogEntry{
		Level:     level,
		Category:  categoryFor(req.Type),
		Action:    action,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		RequestID: req.ID,
		Duration:  req.Duration,
		Error:     errMsg,
		Metadata:  m,
	})
}

func clone(r *model.TrackedRequest) model.TrackedRequest {
	out := *r
	out.Steps = append([]model.RequestStep{}, r.Steps...)
	if r.ChildRequestIDs != nil {
		out.ChildRequestIDs = append([]string(nil), r.ChildRequestIDs...)
	}
	out.Metadata = cloneMap(r.Metadata)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
