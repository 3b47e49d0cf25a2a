package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Transaction is a confirmed transaction decoded to its top-level
// instructions.
type Transaction struct {
	Signature    string
	Slot         uint64
	BlockTime    *time.Time
	Failed       bool
	Instructions []Instruction
}

// Instruction is one top-level instruction as returned by a jsonParsed
// lookup. Parsed holds the node's decoded payload (a JSON string for memo
// programs, an object with "type" and "info" for known programs). Partially
// decoded instructions leave Parsed empty and carry base58 Data instead.
type Instruction struct {
	ProgramID string
	Program   string
	Parsed    json.RawMessage
	Data      string
	Accounts  []string
}

// SignatureInfo is one entry of an address's transaction history.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
}

// SignatureQuery bounds a history page. Before continues a previous page,
// Until stops at (and excludes) a known signature.
type SignatureQuery struct {
	Before string
	Until  string
	Limit  int
}

// EventSource is the chain-facing side of the monitor. Errors wrap
// ErrTransient when a retry may succeed and ErrNotFound when the transaction
// does not exist.
type EventSource interface {
	GetTransaction(ctx context.Context, signature string) (Transaction, error)
	ListSignatures(ctx context.Context, address string, q SignatureQuery) ([]SignatureInfo, error)
	Subscribe(ctx context.Context, address string) (<-chan RawEvent, error)
}
