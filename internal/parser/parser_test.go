package parser

import (
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

const (
	acceptance = "Accept1111111111111111111111111111111111111"
	tokenAcct  = "TokenAcct111111111111111111111111111111111"
	payer      = "Payer11111111111111111111111111111111111111"
)

func memo(text string) domain.Instruction {
	raw, _ := json.Marshal(text)
	return domain.Instruction{ProgramID: MemoProgramID, Program: "spl-memo", Parsed: raw}
}

func systemTransfer(source, destination string, lamports uint64) domain.Instruction {
	raw, _ := json.Marshal(map[string]any{
		"type": "transfer",
		"info": map[string]any{"source": source, "destination": destination, "lamports": lamports},
	})
	return domain.Instruction{ProgramID: SystemProgramID, Program: "system", Parsed: raw}
}

func tokenTransferChecked(source, destination, amount string) domain.Instruction {
	raw, _ := json.Marshal(map[string]any{
		"type": "transferChecked",
		"info": map[string]any{
			"source":      source,
			"destination": destination,
			"authority":   "Owner111",
			"mint":        "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			"tokenAmount": map[string]any{"amount": amount, "decimals": 6, "uiAmountString": "1.5"},
		},
	})
	return domain.Instruction{ProgramID: TokenProgramID, Program: "spl-token", Parsed: raw}
}

func tx(sig string, ixs ...domain.Instruction) domain.Transaction {
	return domain.Transaction{Signature: sig, Slot: 42, Instructions: ixs}
}

func TestParse_NativeTransfer(t *testing.T) {
	got, err := Parse(
		tx("sig-1", memo("a1b2c3d4"), systemTransfer("Payer111...", acceptance, 5000)),
		Expectation{Kind: domain.KindTransfer},
	)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4", got.Reference)
	assert.Equal(t, "Payer111...", got.PayerWallet)
	assert.Equal(t, "sig-1", got.Signature)
	assert.Equal(t, "5000", got.Amount)
	assert.Equal(t, uint64(42), got.Slot)
}

func TestParse_TokenTransferEitherOrder(t *testing.T) {
	want := ExpectationFor(domain.WatchedAddress{Address: tokenAcct, Kind: domain.KindTransferChecked})

	got, err := Parse(tx("sig-2", tokenTransferChecked(payer, tokenAcct, "1500000"), memo("ref-2")), want)
	require.NoError(t, err)
	assert.Equal(t, "ref-2", got.Reference)
	assert.Equal(t, payer, got.PayerWallet)
	assert.Equal(t, "1500000", got.Amount)
	assert.Equal(t, tokenAcct, got.WatchedAddress)
}

func TestParse_FirstMatchWins(t *testing.T) {
	got, err := Parse(tx("sig-3",
		memo("first"),
		systemTransfer("PayerA", acceptance, 1),
		memo("second"),
		systemTransfer("PayerB", acceptance, 2),
	), Expectation{Kind: domain.KindTransfer, Destination: acceptance})
	require.NoError(t, err)
	assert.Equal(t, "first", got.Reference)
	assert.Equal(t, "PayerA", got.PayerWallet)
}

func TestParse_SkipsNonStringMemo(t *testing.T) {
	objMemo := domain.Instruction{ProgramID: MemoProgramID, Parsed: json.RawMessage(`{"note":"x"}`)}
	got, err := Parse(tx("sig-4", objMemo, memo("ref-4"), systemTransfer(payer, acceptance, 1)),
		Expectation{Kind: domain.KindTransfer})
	require.NoError(t, err)
	assert.Equal(t, "ref-4", got.Reference)
}

func TestParse_PartiallyDecodedMemo(t *testing.T) {
	ix := domain.Instruction{ProgramID: MemoV1ProgramID, Data: base58.Encode([]byte("ref-5"))}
	got, err := Parse(tx("sig-5", ix, systemTransfer(payer, acceptance, 1)), Expectation{Kind: domain.KindTransfer})
	require.NoError(t, err)
	assert.Equal(t, "ref-5", got.Reference)

	binary := domain.Instruction{ProgramID: MemoProgramID, Data: base58.Encode([]byte{0xff, 0xfe, 0x00})}
	_, err = Parse(tx("sig-5b", binary, systemTransfer(payer, acceptance, 1)), Expectation{Kind: domain.KindTransfer})
	assert.ErrorIs(t, err, ErrReferenceNotAssociated)
}

func TestParse_Failures(t *testing.T) {
	testCases := []struct {
		name    string
		tx      domain.Transaction
		want    Expectation
		wantErr error
	}{
		{
			name:    "no memo",
			tx:      tx("s", systemTransfer(payer, acceptance, 1)),
			want:    Expectation{Kind: domain.KindTransfer},
			wantErr: ErrReferenceNotAssociated,
		},
		{
			name:    "empty memo",
			tx:      tx("s", memo("   "), systemTransfer(payer, acceptance, 1)),
			want:    Expectation{Kind: domain.KindTransfer},
			wantErr: ErrReferenceNotAssociated,
		},
		{
			name:    "memo text from a non memo program",
			tx:      tx("s", domain.Instruction{ProgramID: "Other111", Parsed: json.RawMessage(`"ref"`)}, systemTransfer(payer, acceptance, 1)),
			want:    Expectation{Kind: domain.KindTransfer},
			wantErr: ErrReferenceNotAssociated,
		},
		{
			name:    "wrong kind",
			tx:      tx("s", memo("ref"), systemTransfer(payer, acceptance, 1)),
			want:    Expectation{Kind: domain.KindTransferChecked},
			wantErr: ErrTransferInstructionMissing,
		},
		{
			name:    "transfer to another account",
			tx:      tx("s", memo("ref"), systemTransfer(acceptance, "Elsewhere111", 1)),
			want:    Expectation{Kind: domain.KindTransfer, Destination: acceptance},
			wantErr: ErrTransferInstructionMissing,
		},
		{
			name:    "no source",
			tx:      tx("s", memo("ref"), systemTransfer("", acceptance, 1)),
			want:    Expectation{Kind: domain.KindTransfer},
			wantErr: ErrPayerNotFound,
		},
		{
			name:    "failed transaction",
			tx:      domain.Transaction{Signature: "s", Failed: true, Instructions: []domain.Instruction{memo("ref"), systemTransfer(payer, acceptance, 1)}},
			want:    Expectation{Kind: domain.KindTransfer},
			wantErr: ErrTransactionFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.tx, tc.want)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, IsParseError(err))
		})
	}
}

func TestReason(t *testing.T) {
	_, err := Parse(tx("s", systemTransfer(payer, acceptance, 1)), Expectation{Kind: domain.KindTransfer})
	assert.Equal(t, "reference_not_associated", Reason(err))
	assert.Equal(t, "unknown", Reason(assert.AnError))
	assert.False(t, IsParseError(assert.AnError))
}
