// Package audit is the append-only event log every component writes through.
// Records are newline-delimited JSON, one per event.
package audit

import (
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionSubmit            Action = "Submit"
	ActionCancel            Action = "Cancel"
	ActionStatusPoll        Action = "StatusPoll"
	ActionStatusError       Action = "StatusError"
	ActionRiskTrip          Action = "RiskTrip"
	ActionRiskReset         Action = "RiskReset"
	ActionSizeAdjust        Action = "SizeAdjust"
	ActionProtectionTrigger Action = "ProtectionTrigger"
	ActionReconcile         Action = "Reconcile"
	ActionDayRollover       Action = "DayRollover"
)

// Entry is one immutable audit record. Fields are only ever added; readers
// must ignore fields they do not know.
type Entry struct {
	Timestamp      time.Time         `json:"timestamp"`
	SessionID      string            `json:"sessionId"`
	Action         Action            `json:"action"`
	Seq            uint64            `json:"seq,omitempty"`
	OrderID        string            `json:"orderId,omitempty"`
	BrokerOrderID  string            `json:"brokerOrderId,omitempty"`
	Symbol         string            `json:"symbol,omitempty"`
	Side           string            `json:"side,omitempty"`
	LimitPrice     *decimal.Decimal  `json:"limitPrice,omitempty"`
	Quantity       int64             `json:"quantity,omitempty"`
	FilledQuantity int64             `json:"filledQuantity,omitempty"`
	AvgFillPrice   *decimal.Decimal  `json:"avgFillPrice,omitempty"`
	ExecutionMode  string            `json:"executionMode,omitempty"`
	Status         string            `json:"status,omitempty"`
	Strategy       string            `json:"strategy,omitempty"`
	RetryCount     int               `json:"retryCount,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Dec returns a pointer to a copy of d for the optional decimal fields.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Log accepts entries from any goroutine. Append returns only after the
// entry has been handed to the underlying store in a single write.
type Log interface {
	Append(e Entry) error
}

// stamp fills the timestamp and session when the caller left them empty.
func stamp(e *Entry, session string, now func() time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.SessionID == "" {
		e.SessionID = session
	}
}

func decString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
