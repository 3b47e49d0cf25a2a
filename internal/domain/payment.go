package domain

import (
	"encoding/json"
	"time"
)

// InstructionKind names the parsed instruction type that counts as a payment
// into a watched address.
type InstructionKind string

const (
	// KindTransfer is a native SOL transfer through the System program.
	KindTransfer InstructionKind = "transfer"
	// KindTransferChecked is an SPL token transfer into a token account.
	KindTransferChecked InstructionKind = "transferChecked"
)

// Valid reports whether k is a supported kind.
func (k InstructionKind) Valid() bool {
	return k == KindTransfer || k == KindTransferChecked
}

// WatchedAddress is an account whose incoming payments are reconciled.
type WatchedAddress struct {
	Address string
	Kind    InstructionKind
	Label   string
}

// DeliveryPath tells which path handed a signature to the processor.
type DeliveryPath string

const (
	PathLive  DeliveryPath = "live"
	PathSweep DeliveryPath = "sweep"
)

// RawEvent is one live notification for a watched address. Resubscribed
// events carry no signature; they mark a feed that was re-established after a
// drop, so activity in between may have been missed.
type RawEvent struct {
	Address      string          `json:"address"`
	Signature    string          `json:"signature,omitempty"`
	Slot         uint64          `json:"slot,omitempty"`
	Err          json.RawMessage `json:"err,omitempty"`
	Logs         []string        `json:"logs,omitempty"`
	Resubscribed bool            `json:"resubscribed,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// Failed reports whether the node flagged the transaction as failed.
func (e RawEvent) Failed() bool {
	return len(e.Err) > 0 && string(e.Err) != "null"
}

// ParsedPayment is a transaction reduced to what reconciliation needs.
type ParsedPayment struct {
	Reference      string
	PayerWallet    string
	Signature      string
	WatchedAddress string
	// Amount is the raw transferred quantity (lamports or token base units).
	// It is recorded for provenance only.
	Amount string
	Slot   uint64
}

// Outcome is the result of reconciling one payment.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// OutcomeKind enumerates reconciliation results.
type OutcomeKind string

const (
	OutcomeApplied        OutcomeKind = "applied"
	OutcomeAlreadySettled OutcomeKind = "already_settled"
	OutcomeNoSuchInvoice  OutcomeKind = "no_such_invoice"
	OutcomeRejected       OutcomeKind = "rejected"
)

func (o Outcome) String() string {
	if o.Reason != "" {
		return string(o.Kind) + "(" + o.Reason + ")"
	}
	return string(o.Kind)
}

// Watermark is the newest signature a completed sweep has processed for an
// address.
type Watermark struct {
	Address   string
	Signature string
	Slot      uint64
	Processed int64
	UpdatedAt time.Time
}

// AuditLine is the persisted form of a RawEvent in the raw event log: the
// watched address as context and the event itself.
type AuditLine struct {
	Context string   `json:"context"`
	Logs    RawEvent `json:"logs"`
}
