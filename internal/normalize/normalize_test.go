package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingwatch/internal/model"
)

func TestBookingAcceptsMixedKeyStyles(t *testing.T) {
	rec, err := Booking(map[string]any{
		"id":                "b-1",
		"Status":            "CANCELED",
		"hotelId":           "h-9",
		"check_in":          "2026-08-01",
		"checkOut":          "2026-08-04T11:00:00+02:00",
		"totalPrice":        "420.50",
		"payment_status":    "captured",
		"paymentAmount":     420.5,
		"cancelledAt":       "1767225600",
		"providerBookingId": "p-77",
		"currency":          "eur",
	})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, rec.Status)
	assert.Equal(t, model.PaymentPaid, rec.PaymentStatus)
	assert.Equal(t, "h-9", rec.HotelID)
	assert.Equal(t, "EUR", rec.Currency)
	assert.Equal(t, 420.5, rec.TotalPrice)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), rec.CheckIn)
	assert.Equal(t, time.Date(2026, 8, 4, 9, 0, 0, 0, time.UTC), rec.CheckOut)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), rec.CancelledAt)
	assert.Equal(t, "p-77", rec.ProviderBookingID)
}

func TestBookingErrors(t *testing.T) {
	_, err := Booking(map[string]any{"status": "pending"})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = Booking(map[string]any{"id": "b", "created_at": "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")

	_, err = Booking(map[string]any{"id": "b", "total_price": "lots"})
	assert.Error(t, err)
}

func TestBookingsBatchShapes(t *testing.T) {
	recs, errs, err := Bookings([]byte(`[{"id":"a","total_price":10},{"status":"pending"}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 10.0, recs[0].TotalPrice)
	assert.Len(t, errs, 1)

	recs, _, err = Bookings([]byte(`{"bookings":[{"id":"a"},{"id":"b"}]}`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, _, err = Bookings([]byte(` {"id": 42} `))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "42", recs[0].ID)

	_, _, err = Bookings([]byte("  "))
	assert.Error(t, err)
	_, _, err = Bookings([]byte("[{"))
	assert.Error(t, err)
}

func TestParseTimestampMillis(t *testing.T) {
	ts, err := ParseTimestamp("1767225600123", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, int64(1767225600123), ts.UnixMilli())
}
