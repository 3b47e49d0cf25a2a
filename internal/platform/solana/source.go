package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// Source implements domain.EventSource over a Solana node.
type Source struct {
	rpc    *Client
	ws     *WSClient
	logger *slog.Logger
}

// NewSource combines the HTTP and websocket clients.
func NewSource(rpc *Client, ws *WSClient, logger *slog.Logger) *Source {
	return &Source{
		rpc:    rpc,
		ws:     ws,
		logger: logger.With(slog.String("component", "event_source")),
	}
}

// GetTransaction fetches and decodes one transaction.
func (s *Source) GetTransaction(ctx context.Context, signature string) (domain.Transaction, error) {
	if _, err := solanago.SignatureFromBase58(signature); err != nil {
		return domain.Transaction{}, fmt.Errorf("solana: invalid signature %q: %w", signature, err)
	}

	resp, err := s.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("solana: %w", err)
	}
	return decodeTransaction(signature, resp), nil
}

// ListSignatures returns one page of the address's history, newest first.
func (s *Source) ListSignatures(ctx context.Context, address string, q domain.SignatureQuery) ([]domain.SignatureInfo, error) {
	sigs, err := s.rpc.GetSignaturesForAddress(ctx, address, &GetSignaturesOpts{
		Limit:  q.Limit,
		Before: q.Before,
		Until:  q.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("solana: %w", err)
	}

	out := make([]domain.SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, domain.SignatureInfo{
			Signature: sig.Signature,
			Slot:      sig.Slot,
			BlockTime: unixPtr(sig.BlockTime),
			Failed:    !isNull(sig.Err),
		})
	}
	return out, nil
}

// Subscribe opens a live feed of transactions mentioning address.
func (s *Source) Subscribe(ctx context.Context, address string) (<-chan domain.RawEvent, error) {
	return s.ws.SubscribeLogs(ctx, address)
}

// Ping reports whether the node answers getVersion.
func (s *Source) Ping(ctx context.Context) error {
	if _, err := s.rpc.GetVersion(ctx); err != nil {
		return fmt.Errorf("solana: ping: %w", err)
	}
	return nil
}

// Preflight checks that the node answers and that every watched account
// exists. It returns every problem found.
func (s *Source) Preflight(ctx context.Context, watched []domain.WatchedAddress) error {
	version, err := s.rpc.GetVersion(ctx)
	if err != nil {
		return fmt.Errorf("solana: preflight: %w", err)
	}
	s.logger.InfoContext(ctx, "connected to solana node",
		slog.String("version", version.SolanaCore),
	)

	var errs []error
	for _, w := range watched {
		info, err := s.rpc.GetAccountInfo(ctx, w.Address)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				errs = append(errs, fmt.Errorf("watched account %s (%s) does not exist: %w", w.Address, w.Kind, domain.ErrInvalidConfig))
				continue
			}
			errs = append(errs, err)
			continue
		}
		s.logger.InfoContext(ctx, "watched account verified",
			slog.String("address", w.Address),
			slog.String("kind", string(w.Kind)),
			slog.String("owner", info.Value.Owner),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("solana: preflight: %w", errors.Join(errs...))
	}
	return nil
}

func decodeTransaction(signature string, resp TransactionResponse) domain.Transaction {
	tx := domain.Transaction{
		Signature: signature,
		Slot:      resp.Slot,
		BlockTime: unixPtr(resp.BlockTime),
	}
	if resp.Meta != nil && !isNull(resp.Meta.Err) {
		tx.Failed = true
	}
	for _, ix := range resp.Transaction.Message.Instructions {
		tx.Instructions = append(tx.Instructions, domain.Instruction{
			ProgramID: ix.ProgramID,
			Program:   ix.Program,
			Parsed:    ix.Parsed,
			Data:      ix.Data,
			Accounts:  ix.Accounts,
		})
	}
	return tx
}

func unixPtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

// Compile-time interface check.
var _ domain.EventSource = (*Source)(nil)
