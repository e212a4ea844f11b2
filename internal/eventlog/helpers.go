package eventlog

import (
	"time"

	"bookingwatch/internal/model"
)

func (l *Logger) Debug(category model.Category, action string, metadata map[string]any) model.LogEntry {
	return l.Log(model.LogEntry{Level: model.LevelDebug, Category: category, Action: action, Metadata: metadata})
}

func (l *Logger) Info(category model.Category, action string, metadata map[string]any) model.LogEntry {
	return l.Log(model.LogEntry{Level: model.LevelInfo, Category: category, Action: action, Metadata: metadata})
}

func (l *Logger) Warn(category model.Category, action string, metadata map[string]any) model.LogEntry {
	return l.Log(model.LogEntry{Level: model.LevelWarn, Category: category, Action: action, Metadata: metadata})
}

func (l *Logger) Error(category model.Category, action string, err error, metadata map[string]any) model.LogEntry {
	entry := model.LogEntry{Level: model.LevelError, Category: category, Action: action, Metadata: metadata}
	if err != nil {
		entry.Error = err.Error()
	}
	return l.Log(entry)
}

// APIRequest describes one inbound API call handled by the platform.
type APIRequest struct {
	Method       string
	Endpoint     string
	StatusCode   int
	Duration     time.Duration
	RequestBody  any
	ResponseBody any
	UserID       string
	SessionID    string
	RequestID    string
	IPAddress    string
	UserAgent    string
	Err          error
	Metadata     map[string]any
}

func (l *Logger) LogAPIRequest(req APIRequest) model.LogEntry {
	level := model.LevelInfo
	switch {
	case req.StatusCode >= 500:
		level = model.LevelError
	case req.StatusCode >= 400:
		level = model.LevelWarn
	}
	if req.Err != nil && level == model.LevelInfo {
		level = model.LevelError
	}
	entry := model.LogEntry{
		Level:        level,
		Category:     model.CategoryAPI,
		Action:       req.Method + " " + req.Endpoint,
		Method:       req.Method,
		Endpoint:     req.Endpoint,
		RequestBody:  req.RequestBody,
		ResponseBody: req.ResponseBody,
		StatusCode:   req.StatusCode,
		Duration:     req.Duration,
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		RequestID:    req.RequestID,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Metadata:     req.Metadata,
	}
	if req.Err != nil {
		entry.Error = req.Err.Error()
	}
	return l.Log(entry)
}

// ProviderCall describes one outbound call to the booking provider.
type ProviderCall struct {
	Operation  string
	Method     string
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Request    any
	Response   any
	RequestID  string
	UserID     string
	Err        error
	Metadata   map[string]any
}

func (l *Logger) LogProviderCall(call ProviderCall) model.LogEntry {
	level := model.LevelInfo
	if call.Err != nil || call.StatusCode >= 500 {
		level = model.LevelError
	} else if call.StatusCode >= 400 {
		level = model.LevelWarn
	}
	entry := model.LogEntry{
		Level:        level,
		Category:     model.CategoryProvider,
		Action:       call.Operation,
		Method:       call.Method,
		Endpoint:     call.Endpoint,
		RequestBody:  call.Request,
		ResponseBody: call.Response,
		StatusCode:   call.StatusCode,
		Duration:     call.Duration,
		RequestID:    call.RequestID,
		UserID:       call.UserID,
		Metadata:     call.Metadata,
	}
	if call.Err != nil {
		entry.Error = call.Err.Error()
	}
	return l.Log(entry)
}
