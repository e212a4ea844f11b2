package agents

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookingwatch/internal/model"
)

// Check scans a batch of bookings and reports what looks wrong. Checks are
// pure: they read records and now, nothing else.
type Check func(records []model.BookingRecord, now time.Time) []model.Issue

const (
	pendingTooLong   = time.Hour
	refundGrace      = 24 * time.Hour
	paymentTolerance = 0.01
	longStayNights   = 30
	hoursPerNight    = 24 * time.Hour
)

var checks = map[model.AgentType]Check{
	model.AgentBookingVerifier:     verifyBookings,
	model.AgentCancellationChecker: checkCancellations,
	model.AgentPaymentReconciler:   reconcilePayments,
	model.AgentPriceWatcher:        watchPrices,
	model.AgentIntegrityChecker:    checkIntegrity,
}

func newIssue(sev model.Severity, issueType string, b model.BookingRecord, entity model.EntityType, desc, suggested string, data map[string]any) model.Issue {
	if data == nil {
		data = make(map[string]any)
	}
	data["booking_status"] = string(b.Status)
	if b.HotelID != "" {
		data["hotel_id"] = b.HotelID
	}
	return model.Issue{
		ID:              uuid.New().String(),
		Severity:        sev,
		Type:            issueType,
		Description:     desc,
		EntityType:      entity,
		EntityID:        b.ID,
		Data:            data,
		SuggestedAction: suggested,
	}
}

func verifyBookings(records []model.BookingRecord, now time.Time) []model.Issue {
	var issues []model.Issue
	for _, b := range records {
		switch b.Status {
		case model.BookingPending:
			if !b.CreatedAt.IsZero() && now.Sub(b.CreatedAt) > pendingTooLong {
				age := now.Sub(b.CreatedAt).Round(time.Minute)
				issues = append(issues, newIssue(model.SeverityHigh, "stuck_pending_booking", b, model.EntityBooking,
					fmt.Sprintf("Booking %s has been pending for %s", b.ID, age),
					"Check provider status and confirm or fail the booking",
					map[string]any{"pending_for": age.String(), "created_at": b.CreatedAt}))
			}
			if !b.CheckIn.IsZero() && b.CheckIn.Before(now) {
				issues = append(issues, newIssue(model.SeverityHigh, "past_checkin_pending", b, model.EntityBooking,
					fmt.Sprintf("Booking %s is still pending after its check-in date", b.ID),
					"Contact the guest and the hotel",
					map[string]any{"check_in": b.CheckIn}))
			}
		case model.BookingConfirmed:
			if strings.TrimSpace(b.ProviderBookingID) == "" {
				issues = append(issues, newIssue(model.SeverityCritical, "missing_provider_booking_id", b, model.EntityBooking,
					fmt.Sprintf("Confirmed booking %s has no provider booking id", b.ID),
					"Verify the reservation exists with the provider",
					map[string]any{"prebook_token": b.PrebookToken}))
			}
		}
	}
	return issues
}

func checkCancellations(records []model.BookingRecord, now time.Time) []model.Issue {
	var issues []model.Issue
	for _, b := range records {
		if b.Status != model.BookingCancelled {
			continue
		}
		if b.PaymentStatus == model.PaymentPaid && !b.CancelledAt.IsZero() && now.Sub(b.CancelledAt) > refundGrace {
			issues = append(issues, newIssue(model.SeverityCritical, "cancelled_not_refunded", b, model.EntityPayment,
				fmt.Sprintf("Booking %s was cancelled %s ago but is still paid", b.ID, now.Sub(b.CancelledAt).Round(time.Hour)),
				"Issue the refund",
				map[string]any{"cancelled_at": b.CancelledAt, "payment_amount": b.PaymentAmount, "currency": b.Currency}))
		}
		if strings.TrimSpace(b.CancellationReason) == "" {
			issues = append(issues, newIssue(model.SeverityLow, "missing_cancellation_reason", b, model.EntityBooking,
				fmt.Sprintf("Cancelled booking %s has no cancellation reason", b.ID),
				"Record why the booking was cancelled", nil))
		}
	}
	return issues
}

func reconcilePayments(records []model.BookingRecord, _ time.Time) []model.Issue {
	var issues []model.Issue
	for _, b := range records {
		if b.PaymentStatus == model.PaymentPaid && math.Abs(b.TotalPrice-b.PaymentAmount) > paymentTolerance*math.Abs(b.TotalPrice) {
			issues = append(issues, newIssue(model.SeverityHigh, "payment_amount_mismatch", b, model.EntityPayment,
				fmt.Sprintf("Booking %s paid %.2f but totals %.2f", b.ID, b.PaymentAmount, b.TotalPrice),
				"Reconcile the charge with the payment provider",
				map[string]any{"total_price": b.TotalPrice, "payment_amount": b.PaymentAmount, "currency": b.Currency}))
		}
		if b.Status == model.BookingConfirmed && b.PaymentStatus == model.PaymentFailed {
			issues = append(issues, newIssue(model.SeverityCritical, "confirmed_payment_failed", b, model.EntityPayment,
				fmt.Sprintf("Booking %s is confirmed but its payment failed", b.ID),
				"Collect payment or cancel the booking", nil))
		}
		if b.Status == model.BookingCompleted && b.PaymentStatus == model.PaymentPending {
			issues = append(issues, newIssue(model.SeverityMedium, "completed_payment_pending", b, model.EntityPayment,
				fmt.Sprintf("Booking %s is completed with payment still pending", b.ID),
				"Capture the outstanding payment", nil))
		}
	}
	return issues
}

func watchPrices(records []model.BookingRecord, _ time.Time) []model.Issue {
	var issues []model.Issue
	for _, b := range records {
		if b.TotalPrice <= 0 {
			issues = append(issues, newIssue(model.SeverityCritical, "invalid_price", b, model.EntityBooking,
				fmt.Sprintf("Booking %s has a non-positive total price %.2f", b.ID, b.TotalPrice),
				"Re-price the booking",
				map[string]any{"total_price": b.TotalPrice, "currency": b.Currency}))
		}
	}
	return issues
}

func checkIntegrity(records []model.BookingRecord, _ time.Time) []model.Issue {
	var issues []model.Issue
	for _, b := range records {
		if strings.TrimSpace(b.GuestEmail) == "" {
			issues = append(issues, newIssue(model.SeverityMedium, "missing_guest_email", b, model.EntityUser,
				fmt.Sprintf("Booking %s has no guest email", b.ID),
				"Ask the guest for a contact address",
				map[string]any{"guest_name": b.GuestName}))
		}
		if !b.CheckOut.After(b.CheckIn) {
			issues = append(issues, newIssue(model.SeverityHigh, "invalid_dates", b, model.EntityBooking,
				fmt.Sprintf("Booking %s checks out on or before check-in", b.ID),
				"Correct the stay dates",
				map[string]any{"check_in": b.CheckIn, "check_out": b.CheckOut}))
			continue
		}
		if nights := int(b.CheckOut.Sub(b.CheckIn) / hoursPerNight); nights > longStayNights {
			issues = append(issues, newIssue(model.SeverityLow, "long_stay", b, model.EntityBooking,
				fmt.Sprintf("Booking %s is %d nights long, verify intentional", b.ID, nights),
				"Confirm the stay length with the guest",
				map[string]any{"nights": nights}))
		}
	}
	return issues
}

var issueAlertTypes = map[string]model.AlertType{
	"stuck_pending_booking":       model.AlertBookingFailed,
	"missing_provider_booking_id": model.AlertBookingFailed,
	"past_checkin_pending":        model.AlertBookingFailed,
	"cancelled_not_refunded":      model.AlertCancellationIssue,
	"missing_cancellation_reason": model.AlertCancellationIssue,
	"payment_amount_mismatch":     model.AlertPaymentFailed,
	"confirmed_payment_failed":    model.AlertPaymentFailed,
	"completed_payment_pending":   model.AlertPaymentFailed,
	"invalid_price":               model.AlertPriceMismatch,
	"missing_guest_email":         model.AlertDataIntegrity,
	"invalid_dates":               model.AlertDataIntegrity,
	"long_stay":                   model.AlertDataIntegrity,
}

// AlertTypeFor maps an issue type to the alert it raises.
func AlertTypeFor(issueType string) model.AlertType {
	if t, ok := issueAlertTypes[issueType]; ok {
		return t
	}
	return model.AlertSystemError
}
