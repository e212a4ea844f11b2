package model

import "time"

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Category string

const (
	CategoryAPI      Category = "api"
	CategoryProvider Category = "external-provider"
	CategoryBooking  Category = "booking"
	CategoryAuth     Category = "auth"
	CategorySystem   Category = "system"
)

// LogEntry is immutable once handed to the event logger.
type LogEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Level        Level          `json:"level"`
	Category     Category       `json:"category"`
	Action       string         `json:"action"`
	Method       string         `json:"method,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	RequestBody  any            `json:"request_body,omitempty"`
	ResponseBody any            `json:"response_body,omitempty"`
	StatusCode   int            `json:"status_code,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Error        string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type RequestType string

const (
	RequestSearch         RequestType = "search"
	RequestPrebook        RequestType = "prebook"
	RequestBook           RequestType = "book"
	RequestCancel         RequestType = "cancel"
	RequestPaymentProcess RequestType = "payment_process"
	RequestPaymentRefund  RequestType = "payment_refund"
	RequestAuth           RequestType = "auth"
	RequestGenericAPICall RequestType = "api_call"
)

type RequestStatus string

const (
	StatusStarted         RequestStatus = "started"
	StatusProcessing      RequestStatus = "processing"
	StatusWaitingExternal RequestStatus = "waiting_external"
	StatusCompleted       RequestStatus = "completed"
	StatusFailed          RequestStatus = "failed"
	StatusCancelled       RequestStatus = "cancelled"
	StatusTimeout         RequestStatus = "timeout"
)

// Rank orders statuses along the lifecycle; all terminal statuses share the top rank.
func (s RequestStatus) Rank() int {
	switch s {
	case StatusStarted:
		return 0
	case StatusProcessing:
		return 1
	case StatusWaitingExternal:
		return 2
	default:
		return 3
	}
}

func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

type RequestStep struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      StepStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Input       any           `json:"input,omitempty"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type TrackedRequest struct {
	ID              string         `json:"id"`
	Type            RequestType    `json:"type"`
	Status          RequestStatus  `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at,omitempty"`
	Duration        time.Duration  `json:"duration,omitempty"`
	Steps           []RequestStep  `json:"steps"`
	CurrentStep     string         `json:"current_step,omitempty"`
	WaitingOn       string         `json:"waiting_on,omitempty"`
	ParentRequestID string         `json:"parent_request_id,omitempty"`
	ChildRequestIDs []string       `json:"child_request_ids,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	BookingID       string         `json:"booking_id,omitempty"`
	HotelID         string         `json:"hotel_id,omitempty"`
	Result          any            `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AlertType string

const (
	AlertBookingFailed     AlertType = "booking_failed"
	AlertPaymentFailed     AlertType = "payment_failed"
	AlertPriceMismatch     AlertType = "price_mismatch"
	AlertHighErrorRate     AlertType = "high_error_rate"
	AlertCancellationIssue AlertType = "cancellation_issue"
	AlertProviderTimeout   AlertType = "api_timeout"
	AlertAuthFailure       AlertType = "auth_failure"
	AlertDataIntegrity     AlertType = "data_integrity"
	AlertSystemError       AlertType = "system_error"
)

type ActionType string

const (
	ActionLog     ActionType = "log"
	ActionEmail   ActionType = "email"
	ActionWebhook ActionType = "webhook"
	ActionSlack   ActionType = "slack"
	ActionSMS     ActionType = "sms"
)

type Alert struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Type            AlertType      `json:"type"`
	Severity        Severity       `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Source          string         `json:"source"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Resolved        bool           `json:"resolved"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	BookingID       string         `json:"booking_id,omitempty"`
	RelatedAlertIDs []string       `json:"related_alert_ids,omitempty"`
}

type AgentType string

const (
	AgentBookingVerifier     AgentType = "booking_verifier"
	AgentCancellationChecker AgentType = "cancellation_checker"
	AgentPaymentReconciler   AgentType = "payment_reconciler"
	AgentPriceWatcher        AgentType = "price_watcher"
	AgentIntegrityChecker    AgentType = "integrity_checker"
)

type AgentConfig struct {
	ID          string       `json:"id"`
	Type        AgentType    `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Enabled     bool         `json:"enabled"`
	Schedule    string       `json:"schedule,omitempty"`
	LastRun     time.Time    `json:"last_run,omitempty"`
	LastResult  *AgentResult `json:"last_result,omitempty"`
}

type AgentResult struct {
	AgentID      string        `json:"agent_id"`
	AgentType    AgentType     `json:"agent_type"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	ItemsChecked int           `json:"items_checked"`
	IssuesFound  int           `json:"issues_found"`
	Issues       []Issue       `json:"issues"`
	Error        string        `json:"error,omitempty"`
}

type EntityType string

const (
	EntityBooking EntityType = "booking"
	EntityPayment EntityType = "payment"
	EntityHotel   EntityType = "hotel"
	EntityUser    EntityType = "user"
)

type Issue struct {
	ID              string         `json:"id"`
	Severity        Severity       `json:"severity"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	EntityType      EntityType     `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	Data            map[string]any `json:"data,omitempty"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
	BookingFailed    BookingStatus = "failed"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

// BookingRecord mirrors the booking store's row; this module only reads it.
type BookingRecord struct {
	ID                 string        `json:"id"`
	Status             BookingStatus `json:"status"`
	HotelID            string        `json:"hotel_id"`
	HotelName          string        `json:"hotel_name"`
	CheckIn            time.Time     `json:"check_in"`
	CheckOut           time.Time     `json:"check_out"`
	GuestName          string        `json:"guest_name"`
	GuestEmail         string        `json:"guest_email"`
	TotalPrice         float64       `json:"total_price"`
	Currency           string        `json:"currency"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	PaymentAmount      float64       `json:"payment_amount"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	CancelledAt        time.Time     `json:"cancelled_at,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	ProviderBookingID  string        `json:"provider_booking_id,omitempty"`
	PrebookToken       string        `json:"prebook_token,omitempty"`
}
