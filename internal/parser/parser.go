// Package parser turns a decoded transaction into a payment candidate: the
// invoice reference carried in a memo instruction and the payer taken from
// the matching transfer instruction.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// Well-known program ids.
const (
	SystemProgramID    = "11111111111111111111111111111111"
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	MemoProgramID      = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	MemoV1ProgramID    = "Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo"
)

var (
	ErrReferenceNotAssociated     = errors.New("reference not associated")
	ErrTransferInstructionMissing = errors.New("transfer instruction missing")
	ErrPayerNotFound              = errors.New("payer not found")
	ErrTransactionFailed          = errors.New("transaction failed")
)

// Expectation describes what a payment into one watched address looks like.
// An empty Destination skips the destination check.
type Expectation struct {
	Kind        domain.InstructionKind
	Destination string
}

// ExpectationFor builds the expectation for a watched address.
func ExpectationFor(w domain.WatchedAddress) Expectation {
	return Expectation{Kind: w.Kind, Destination: w.Address}
}

// Parse extracts the reference and payer from tx. Multiple memo or transfer
// instructions are resolved by instruction order: the first match wins.
func Parse(tx domain.Transaction, want Expectation) (domain.ParsedPayment, error) {
	if tx.Failed {
		return domain.ParsedPayment{}, fmt.Errorf("parser: %s: %w", tx.Signature, ErrTransactionFailed)
	}

	reference, ok := findReference(tx.Instructions)
	if !ok {
		return domain.ParsedPayment{}, fmt.Errorf("parser: %s: %w", tx.Signature, ErrReferenceNotAssociated)
	}

	info, ok := findTransfer(tx.Instructions, want)
	if !ok {
		return domain.ParsedPayment{}, fmt.Errorf("parser: %s: %s: %w", tx.Signature, want.Kind, ErrTransferInstructionMissing)
	}
	if info.Source == "" {
		return domain.ParsedPayment{}, fmt.Errorf("parser: %s: %w", tx.Signature, ErrPayerNotFound)
	}

	return domain.ParsedPayment{
		Reference:      reference,
		PayerWallet:    info.Source,
		Signature:      tx.Signature,
		WatchedAddress: want.Destination,
		Amount:         info.amount(),
		Slot:           tx.Slot,
	}, nil
}

// Reason maps a parse error to a short stable label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrReferenceNotAssociated):
		return "reference_not_associated"
	case errors.Is(err, ErrTransferInstructionMissing):
		return "transfer_instruction_missing"
	case errors.Is(err, ErrPayerNotFound):
		return "payer_not_found"
	case errors.Is(err, ErrTransactionFailed):
		return "transaction_failed"
	}
	return "unknown"
}

// IsParseError reports whether err came from Parse.
func IsParseError(err error) bool {
	return Reason(err) != "unknown"
}

func isMemoProgram(id string) bool {
	return id == MemoProgramID || id == MemoV1ProgramID
}

func findReference(ixs []domain.Instruction) (string, bool) {
	for _, ix := range ixs {
		if !isMemoProgram(ix.ProgramID) {
			continue
		}
		if ref, ok := memoText(ix); ok {
			return ref, true
		}
	}
	return "", false
}

// memoText returns the memo payload when it is a plain non-empty string.
func memoText(ix domain.Instruction) (string, bool) {
	if len(ix.Parsed) > 0 {
		var s string
		if err := json.Unmarshal(ix.Parsed, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	if ix.Data == "" {
		return "", false
	}
	raw, err := base58.Decode(ix.Data)
	if err != nil || !utf8.Valid(raw) {
		return "", false
	}
	s := strings.TrimSpace(string(raw))
	return s, s != ""
}

type parsedInstruction struct {
	Type string       `json:"type"`
	Info transferInfo `json:"info"`
}

type transferInfo struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Lamports    json.Number `json:"lamports"`
	TokenAmount *struct {
		Amount string `json:"amount"`
	} `json:"tokenAmount"`
}

func (i transferInfo) amount() string {
	if i.TokenAmount != nil {
		return i.TokenAmount.Amount
	}
	return i.Lamports.String()
}

func programsFor(kind domain.InstructionKind) map[string]bool {
	switch kind {
	case domain.KindTransfer:
		return map[string]bool{SystemProgramID: true}
	case domain.KindTransferChecked:
		return map[string]bool{TokenProgramID: true, Token2022ProgramID: true}
	}
	return nil
}

func findTransfer(ixs []domain.Instruction, want Expectation) (transferInfo, bool) {
	programs := programsFor(want.Kind)
	for _, ix := range ixs {
		if !programs[ix.ProgramID] || len(ix.Parsed) == 0 {
			continue
		}
		var p parsedInstruction
		if err := json.Unmarshal(ix.Parsed, &p); err != nil {
			continue
		}
		if p.Type != string(want.Kind) {
			continue
		}
		if want.Destination != "" && p.Info.Destination != want.Destination {
			continue
		}
		return p.Info, true
	}
	return transferInfo{}, false
}
