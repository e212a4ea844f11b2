package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookingwatch/internal/agents"
	"bookingwatch/internal/alerts"
	"bookingwatch/internal/config"
	"bookingwatch/internal/engine"
	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/metrics"
	"bookingwatch/internal/model"
	"bookingwatch/internal/normalize"
	"bookingwatch/internal/tracker"
)

// Deps are the services the operator API reads and drives.
type Deps struct {
	Config  *config.Manager
	Events  *eventlog.Logger
	Engine  *engine.Engine
	Tracker *tracker.Tracker
	Agents  *agents.Manager
	Metrics *metrics.Collector
	// Bookings backs agent runs posted without a body.
	Bookings agents.BatchSource
	// Ingest, when set, is mounted at /ingest/bookings.
	Ingest  http.Handler
	Logger  *slog.Logger
	Version string
}

type Server struct {
	Deps
}

type statusResponse struct {
	Status     string         `json:"status"`
	Time       string         `json:"time"`
	Version    string         `json:"version"`
	ConfigPath string         `json:"config_path"`
	Alerts     alerts.Stats   `json:"alerts"`
	Logs       eventlog.Stats `json:"logs"`
	Requests   int            `json:"requests"`
	Agents     int            `json:"agents"`
	Ingest     ingestStatus   `json:"ingest"`
	API        apiStatus      `json:"api"`
}

type ingestStatus struct {
	Kafka        bool   `json:"kafka"`
	SnapshotFile string `json:"snapshot_file,omitempty"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// NewHandler builds the operator routes.
func NewHandler(deps Deps) http.Handler {
	s := &Server{Deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /alerts/stats", s.handleAlertStats)
	mux.HandleFunc("POST /alerts/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /rules", s.handleRules)
	mux.HandleFunc("POST /rules/{id}", s.handleRuleToggle)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /requests/stats", s.handleRequestStats)
	mux.HandleFunc("GET /requests/{id}", s.handleRequest)
	mux.HandleFunc("GET /requests/{id}/chain", s.handleRequestChain)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("POST /agents/run", s.handleRunAll)
	mux.HandleFunc("POST /agents/{id}/run", s.handleRunAgent)
	mux.HandleFunc("POST /admin/clear", s.handleClear)
	if deps.Ingest != nil {
		mux.Handle("POST /ingest/bookings", deps.Ingest)
	}
	return mux
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	current := deps.Config.Get().API
	logger := deps.Logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: NewHandler(deps), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.Version,
	}
	if s.Config != nil {
		cfg := s.Config.Get()
		resp.ConfigPath = s.Config.Path()
		resp.Ingest = ingestStatus{Kafka: cfg.Ingest.Kafka.Enabled, SnapshotFile: cfg.Ingest.SnapshotFile}
		resp.API = apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr}
	}
	if s.Engine != nil {
		resp.Alerts = s.Engine.Stats()
	}
	if s.Events != nil {
		resp.Logs = s.Events.Stats()
	}
	if s.Tracker != nil {
		resp.Requests = s.Tracker.Len()
	}
	if s.Agents != nil {
		resp.Agents = len(s.Agents.Agents())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerts.Filter{
		Type:     model.AlertType(q.Get("type")),
		Severity: model.Severity(q.Get("severity")),
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		filter.Resolved = &b
	}
	var err error
	if filter.Since, err = parseTime(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}
	if filter.Until, err = parseTime(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, "until must be RFC3339")
		return
	}
	filter.Limit = intParam(q.Get("limit"))
	list := s.Engine.Alerts(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlertStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Stats())
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "api"
	}
	if _, err := s.Engine.Alert(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	changed := s.Engine.ResolveAlert(id, req.ResolvedBy)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": changed})
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.Engine.Rules()})
}

func (s *Server) handleRuleToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must set enabled")
		return
	}
	id := r.PathValue("id")
	if !s.Engine.SetRuleEnabled(id, *req.Enabled) {
		writeError(w, http.StatusNotFound, "rule not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := intParam(q.Get("count"))
	if count == 0 {
		count = 100
	}
	logs := s.Events.RecentLogs(count, eventlog.LogFilter{
		Level:    model.Level(q.Get("level")),
		Category: model.Category(q.Get("category")),
		Action:   q.Get("action"),
	})
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handleRequestStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Tracker.Stats())
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Tracker.Request(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRequestChain(w http.ResponseWriter, r *http.Request) {
	chain := s.Tracker.RequestChain(r.PathValue("id"))
	if len(chain) == 0 {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": chain, "count": len(chain)})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.Agents.Agents()})
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	records, ok := s.bookings(w, r)
	if !ok {
		return
	}
	results := s.Agents.RunAllAgents(r.Context(), records)
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	records, ok := s.bookings(w, r)
	if !ok {
		return
	}
	res, err := s.Agents.RunAgent(r.Context(), r.PathValue("id"), records)
	if errors.Is(err, agents.ErrAgentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// bookings reads the batch from the body, or from the configured source when
// the body is empty.
func (s *Server) bookings(w http.ResponseWriter, r *http.Request) ([]model.BookingRecord, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if s.Bookings == nil {
			writeError(w, http.StatusBadRequest, "no bookings supplied")
			return nil, false
		}
		records, err := s.Bookings.Bookings(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return nil, false
		}
		return records, true
	}
	records, _, err := normalize.Bookings(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return records, true
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.Engine.Reset()
		s.Events.Reset()
		s.Tracker.Reset()
	case "alerts":
		s.Engine.Reset()
	case "logs":
		s.Events.Reset()
	case "requests":
		s.Tracker.Reset()
	default:
		writeError(w, http.StatusBadRequest, "unknown target: "+target)
		return
	}
	if s.Logger != nil {
		s.Logger.Info("operator cleared state", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
