package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookingwatch/internal/model"
)

var ErrMissingID = errors.New("booking record has no id")

// fieldKey folds snake_case, camelCase and kebab-case names to one key.
func fieldKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

type fields map[string]any

func fold(obj map[string]any) fields {
	out := make(fields, len(obj))
	for k, v := range obj {
		out[fieldKey(k)] = v
	}
	return out
}

func (f fields) str(keys ...string) string {
	for _, k := range keys {
		switch v := f[fieldKey(k)].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func (f fields) num(keys ...string) (float64, error) {
	for _, k := range keys {
		switch v := f[fieldKey(k)].(type) {
		case float64:
			return v, nil
		case json.Number:
			return v.Float64()
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", k, err)
			}
			return n, nil
		}
	}
	return 0, nil
}

func (f fields) timestamp(keys ...string) (time.Time, error) {
	for _, k := range keys {
		v, ok := f[fieldKey(k)]
		if !ok || v == nil {
			continue
		}
		var raw string
		switch t := v.(type) {
		case string:
			raw = t
		case json.Number:
			raw = t.String()
		case float64:
			raw = strconv.FormatInt(int64(t), 10)
		default:
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ts, err := ParseTimestamp(raw, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", k, err)
		}
		return ts.UTC(), nil
	}
	return time.Time{}, nil
}

// Booking decodes one loosely-typed record.
func Booking(obj map[string]any) (model.BookingRecord, error) {
	f := fold(obj)
	rec := model.BookingRecord{
		ID:                 f.str("id", "booking_id"),
		Status:             BookingStatus(f.str("status", "booking_status")),
		HotelID:            f.str("hotel_id"),
		HotelName:          f.str("hotel_name"),
		GuestName:          f.str("guest_name"),
		GuestEmail:         f.str("guest_email", "email"),
		Currency:           strings.ToUpper(f.str("currency")),
		PaymentStatus:      PaymentStatus(f.str("payment_status")),
		CancellationReason: f.str("cancellation_reason"),
		ProviderBookingID:  f.str("provider_booking_id", "supplier_booking_id"),
		PrebookToken:       f.str("prebook_token", "prebook_id"),
	}
	if rec.ID == "" {
		return model.BookingRecord{}, ErrMissingID
	}
	var err error
	if rec.TotalPrice, err = f.num("total_price", "price"); err != nil {
		return model.BookingRecord{}, fmt.Errorf("booking %s: %w", rec.ID, err)
	}
	if rec.PaymentAmount, err = f.num("payment_amount", "amount_paid"); err != nil {
		return model.BookingRecord{}, fmt.Errorf("booking %s: %w", rec.ID, err)
	}
	times := []struct {
		dst  *time.Time
		keys []string
	}{
		{&rec.CheckIn, []string{"check_in", "check_in_date"}},
		{&rec.CheckOut, []string{"check_out", "check_out_date"}},
		{&rec.CreatedAt, []string{"created_at"}},
		{&rec.UpdatedAt, []string{"updated_at"}},
		{&rec.CancelledAt, []string{"cancelled_at", "canceled_at"}},
	}
	for _, t := range times {
		if *t.dst, err = f.timestamp(t.keys...); err != nil {
			return model.BookingRecord{}, fmt.Errorf("booking %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// Bookings decodes a JSON batch: an array, an object with a "bookings"
// array, or a single record. Records that fail to decode are returned as
// errors next to the good ones.
func Bookings(data []byte) ([]model.BookingRecord, []error, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, errors.New("empty booking batch")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var objs []map[string]any
	if data[0] == '[' {
		if err := dec.Decode(&objs); err != nil {
			return nil, nil, fmt.Errorf("decode booking batch: %w", err)
		}
	} else {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, nil, fmt.Errorf("decode booking batch: %w", err)
		}
		if list, ok := obj["bookings"].([]any); ok {
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					objs = append(objs, m)
				}
			}
		} else {
			objs = append(objs, obj)
		}
	}

	records := make([]model.BookingRecord, 0, len(objs))
	var errs []error
	for _, obj := range objs {
		rec, err := Booking(obj)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs, nil
}

func BookingStatus(s string) model.BookingStatus {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "canceled":
		return model.BookingCancelled
	case "complete":
		return model.BookingCompleted
	default:
		return model.BookingStatus(v)
	}
}

func PaymentStatus(s string) model.PaymentStatus {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "captured", "succeeded":
		return model.PaymentPaid
	default:
		return model.PaymentStatus(v)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
