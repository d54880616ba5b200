package linkclient

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"satslink/fixed"
	"satslink/util"
)

const (
	METADATA_NAME     = "icrc1:name"
	METADATA_SYMBOL   = "icrc1:symbol"
	METADATA_FEE      = "icrc1:fee"
	METADATA_DECIMALS = "icrc1:decimals"
	METADATA_LOGO     = "icrc1:logo"
)

// LedgerClient talks ICRC-1/ICRC-2 to one token canister
type LedgerClient struct {
	lc      *LinkClient
	TokenID util.Principal
}

func (lc *LinkClient) Ledger(tokenID util.Principal) *LedgerClient {
	return &LedgerClient{lc: lc, TokenID: tokenID}
}

func (l *LedgerClient) BalanceOf(ctx context.Context, agent *Agent, account util.Account) (fixed.EDs, error) {

	balance := fixed.Zero(fixed.E8Decimals)

	if err := l.lc.Query(ctx, agent, l.TokenID.String(), "icrc1_balance_of", account, &balance); err != nil {
		return fixed.EDs{}, errors.Wrapf(err, "Unable to fetch balance of %s", account)
	}

	return balance, nil
}

// Transfer returns the block index of the transfer
func (l *LedgerClient) Transfer(ctx context.Context, agent *Agent, args TransferArgs) (Nat64, error) {

	var res result
	if err := l.lc.Update(ctx, agent, l.TokenID.String(), "icrc1_transfer", args, &res); err != nil {
		return 0, err
	}

	var blockIdx Nat64
	if err := res.decode(&blockIdx); err != nil {
		return 0, util.WrapErr(util.ErrNetwork, err, "Transfer failed")
	}

	return blockIdx, nil
}

// Approve returns the block index of the approval
func (l *LedgerClient) Approve(ctx context.Context, agent *Agent, args ApproveArgs) (Nat64, error) {

	var res result
	if err := l.lc.Update(ctx, agent, l.TokenID.String(), "icrc2_approve", args, &res); err != nil {
		return 0, err
	}

	var blockIdx Nat64
	if err := res.decode(&blockIdx); err != nil {
		return 0, util.WrapErr(util.ErrNetwork, err, "Approve failed")
	}

	return blockIdx, nil
}

type metadataValue struct {
	Text *string         `json:"Text"`
	Nat  json.RawMessage `json:"Nat"`
}

// Metadata reads icrc1_metadata. Name, symbol, fee and decimals are required.
func (l *LedgerClient) Metadata(ctx context.Context, agent *Agent) (*TokenMetadata, error) {

	var entries [][2]json.RawMessage
	if err := l.lc.Query(ctx, agent, l.TokenID.String(), "icrc1_metadata", struct{}{}, &entries); err != nil {
		return nil, errors.Wrapf(err, "Unable to fetch metadata of %s", l.TokenID)
	}

	values := make(map[string]metadataValue, len(entries))
	for _, e := range entries {
		var key string
		var v metadataValue

		if err := json.Unmarshal(e[0], &key); err != nil {
			return nil, errors.Wrap(err, "Metadata key must be text")
		}

		if err := json.Unmarshal(e[1], &v); err != nil {
			return nil, errors.Wrapf(err, "Unable to decode metadata %s", key)
		}
		values[key] = v
	}

	text := func(key string) (string, error) {
		v, ok := values[key]
		if !ok || v.Text == nil {
			return "", errors.Errorf("token %s has no %s", l.TokenID, key)
		}
		return *v.Text, nil
	}

	nat := func(key string) (fixed.EDs, error) {
		v, ok := values[key]
		if !ok || len(v.Nat) == 0 {
			return fixed.EDs{}, errors.Errorf("token %s has no %s", l.TokenID, key)
		}

		var n fixed.EDs
		if err := json.Unmarshal(v.Nat, &n); err != nil {
			return fixed.EDs{}, errors.Wrapf(err, "Unable to decode %s", key)
		}
		return n, nil
	}

	meta := &TokenMetadata{}
	var err error

	if meta.Name, err = text(METADATA_NAME); err != nil {
		return nil, err
	}

	if meta.Symbol, err = text(METADATA_SYMBOL); err != nil {
		return nil, err
	}

	decimals, err := nat(METADATA_DECIMALS)
	if err != nil {
		return nil, err
	}

	d, err := decimals.Uint64()
	if err != nil || d > 255 {
		return nil, errors.Errorf("token %s has unusable decimals %s", l.TokenID, decimals.RawString())
	}
	meta.Decimals = uint8(d)

	fee, err := nat(METADATA_FEE)
	if err != nil {
		return nil, err
	}
	meta.Fee, _ = fixed.FromBig(fee.Raw(), meta.Decimals)

	// Logo is optional
	meta.Logo, _ = text(METADATA_LOGO)

	return meta, nil
}
