package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// GetVersion returns the node's software version.
func (c *Client) GetVersion(ctx context.Context) (VersionResult, error) {
	result, err := c.call(ctx, "getVersion", nil)
	if err != nil {
		return VersionResult{}, fmt.Errorf("getVersion: %w", err)
	}

	var v VersionResult
	if err := json.Unmarshal(result, &v); err != nil {
		return VersionResult{}, fmt.Errorf("unmarshal version: %w", err)
	}
	return v, nil
}

// GetAccountInfo returns account metadata. A missing account yields
// domain.ErrNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (AccountInfoResult, error) {
	params := []any{
		address,
		map[string]any{
			"encoding":   "base64",
			"commitment": c.commitment,
		},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return AccountInfoResult{}, fmt.Errorf("getAccountInfo(%s): %w", address, err)
	}

	var info AccountInfoResult
	if err := json.Unmarshal(result, &info); err != nil {
		return AccountInfoResult{}, fmt.Errorf("unmarshal account info: %w", err)
	}
	if info.Value == nil {
		return info, fmt.Errorf("getAccountInfo(%s): %w", address, domain.ErrNotFound)
	}
	return info, nil
}

// GetSignaturesForAddress returns transaction signatures for an address.
// Results are returned newest-first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]any{
		"commitment": c.commitment,
	}
	if opts != nil {
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
	}

	result, err := c.call(ctx, "getSignaturesForAddress", []any{address, config})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return sigs, nil
}

// GetTransaction returns a jsonParsed transaction by signature. A null result
// (unknown or not yet confirmed) yields domain.ErrNotFound.
func (c *Client) GetTransaction(ctx context.Context, signature string) (TransactionResponse, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}
	result, err := c.call(ctx, "getTransaction", params)
	if err != nil {
		return TransactionResponse{}, fmt.Errorf("getTransaction(%s): %w", signature, err)
	}
	if isNull(result) {
		return TransactionResponse{}, fmt.Errorf("getTransaction(%s): %w", signature, domain.ErrNotFound)
	}

	var tx TransactionResponse
	if err := json.Unmarshal(result, &tx); err != nil {
		return TransactionResponse{}, fmt.Errorf("unmarshal transaction %s: %w", signature, err)
	}
	return tx, nil
}
