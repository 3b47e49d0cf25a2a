package solana

import "encoding/json"

// JSON-RPC request/response types

type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// RPCCode exposes the JSON-RPC error code to the retry classifier.
func (e *RPCError) RPCCode() int {
	return e.Code
}

// getVersion response
type VersionResult struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// getAccountInfo response; Value is null for a missing account.
type AccountInfoResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *struct {
		Lamports   uint64 `json:"lamports"`
		Owner      string `json:"owner"`
		Executable bool   `json:"executable"`
	} `json:"value"`
}

// getSignaturesForAddress response entry
type SignatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	BlockTime          *int64          `json:"blockTime"`
	Err                json.RawMessage `json:"err"`
	Memo               *string         `json:"memo"`
	ConfirmationStatus *string         `json:"confirmationStatus"`
}

type GetSignaturesOpts struct {
	Limit  int
	Before string
	Until  string
}

// getTransaction response (jsonParsed)
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Transaction ParsedTx         `json:"transaction"`
	Meta        *TransactionMeta `json:"meta"`
}

type ParsedTx struct {
	Signatures []string      `json:"signatures"`
	Message    ParsedMessage `json:"message"`
}

type ParsedMessage struct {
	Instructions []ParsedInstruction `json:"instructions"`
}

// ParsedInstruction covers both shapes the node returns: fully parsed
// (Program + Parsed) and partially decoded (Accounts + Data).
type ParsedInstruction struct {
	Program   string          `json:"program,omitempty"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
	Accounts  []string        `json:"accounts,omitempty"`
	Data      string          `json:"data,omitempty"`
}

type TransactionMeta struct {
	Err         json.RawMessage `json:"err"`
	Fee         uint64          `json:"fee"`
	LogMessages []string        `json:"logMessages"`
}

// logsSubscribe notification
type LogsNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
