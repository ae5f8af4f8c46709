package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/suya/internal/domain"
)

func TestPrintResult(t *testing.T) {
	out := statusOutput{TrackingID: "trk-1", Status: "COMPLETED", Outcome: domain.PaymentOutcome("completed")}
	text := func(w io.Writer) {
		fmt.Fprintf(w, "Tracking ID:\t%s\n", out.TrackingID)
		fmt.Fprintf(w, "Status:\t%s\n", out.Status)
	}

	t.Run("text", func(t *testing.T) {
		jsonOutput = false
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, out, text))
		assert.Equal(t, "Tracking ID:  trk-1\nStatus:       COMPLETED\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		jsonOutput = true
		defer func() { jsonOutput = false }()

		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, out, text))

		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "trk-1", got["trackingId"])
		assert.Equal(t, "COMPLETED", got["status"])
	})
}

func TestPrintOrder(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &domain.Order{
		ID:                "abc123",
		Status:            domain.OrderStatusPaid,
		TotalAmount:       decimal.NewFromInt(2500),
		PesapalTrackingID: "trk-1",
		PaidAt:            &paidAt,
	}

	t.Run("text", func(t *testing.T) {
		jsonOutput = false
		var buf bytes.Buffer
		require.NoError(t, printOrder(&buf, o))
		assert.Contains(t, buf.String(), "paid")
		assert.Contains(t, buf.String(), "total=2500.00")
		assert.Contains(t, buf.String(), "paid_at=2026-03-01T12:00:00Z")
	})

	t.Run("json", func(t *testing.T) {
		jsonOutput = true
		defer func() { jsonOutput = false }()

		var buf bytes.Buffer
		require.NoError(t, printOrder(&buf, o))

		var got orderOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "abc123", got.OrderID)
		assert.Equal(t, "paid", got.Status)
		assert.Equal(t, "2500.00", got.TotalAmount)
		require.NotNil(t, got.PaidAt)
		assert.True(t, paidAt.Equal(*got.PaidAt))
	})
}
