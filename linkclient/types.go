package linkclient

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"satslink/fixed"
	"satslink/util"
)

// Nat64 is a nat64 on the wire. The gateway may send it as a JSON number or
// as a string; it is always written back as a string.
type Nat64 uint64

func (n Nat64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(n), 10) + `"`), nil
}

func (n *Nat64) UnmarshalJSON(data []byte) error {

	data = bytes.Trim(bytes.TrimSpace(data), `"`)

	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid nat64 %q", string(data))
	}
	*n = Nat64(v)

	return nil
}

// result mirrors a candid Result: exactly one of Ok or Err is set
type result struct {
	Ok  json.RawMessage `json:"Ok"`
	Err json.RawMessage `json:"Err"`
}

func (r result) decode(out interface{}) error {

	if len(r.Err) > 0 {
		return util.Errf(util.ErrUnknown, "%s", errText(r.Err))
	}

	if len(r.Ok) == 0 {
		return util.Err(util.ErrNetwork, "reply is neither Ok nor Err")
	}

	if out == nil {
		return nil
	}

	return errors.Wrap(json.Unmarshal(r.Ok, out), "Unable to decode Ok value")
}

// errText flattens a variant error into something printable
func errText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

// Totals is the pool-wide state plus the caller's own figures
type Totals struct {
	TotalPledgeTokenSupply fixed.EDs `json:"total_pledge_token_supply"`
	TotalTokenLottery      fixed.EDs `json:"total_token_lottery"`
	TotalTokenDev          fixed.EDs `json:"total_token_dev"`
	TotalTokenMinted       fixed.EDs `json:"total_token_minted"`
	CurrentTokenReward     fixed.EDs `json:"current_token_reward"`
	CurrentShareFee        fixed.EDs `json:"current_share_fee"`
	IsSatslinkEnabled      bool      `json:"is_satslink_enabled"`

	CurrentPosRound Nat64 `json:"current_pos_round"`
	PosRoundDelayNs Nat64 `json:"pos_round_delay_ns"`

	TotalPledgeParticipants Nat64     `json:"total_pledge_participants"`
	TotalVipParticipants    Nat64     `json:"total_vip_participants"`
	IcpToCyclesExchangeRate fixed.EDs `json:"icp_to_cycles_exchange_rate"`

	YourVipShares                fixed.EDs `json:"your_vip_shares"`
	YourVipUnclaimedRewardE8s    fixed.EDs `json:"your_vip_unclaimed_reward_e8s"`
	YourVipEligibilityStatus     bool      `json:"your_vip_eligibility_status"`
	YourPledgeShares             fixed.EDs `json:"your_pledge_shares"`
	YourPledgeUnclaimedRewardE8s fixed.EDs `json:"your_pledge_unclaimed_reward_e8s"`
	YourPledgeEligibilityStatus  bool      `json:"your_pledge_eligibility_status"`
}

// NewTotals returns zeroed totals with every field at its wire precision.
// Decode into it so the 12-decimal fields keep their scale.
func NewTotals() *Totals {
	return &Totals{
		TotalPledgeTokenSupply:       fixed.Zero(fixed.E8Decimals),
		TotalTokenLottery:            fixed.Zero(fixed.E8Decimals),
		TotalTokenDev:                fixed.Zero(fixed.E8Decimals),
		TotalTokenMinted:             fixed.Zero(fixed.E8Decimals),
		CurrentTokenReward:           fixed.Zero(fixed.E8Decimals),
		CurrentShareFee:              fixed.Zero(fixed.E12Decimals),
		IcpToCyclesExchangeRate:      fixed.Zero(fixed.E12Decimals),
		YourVipShares:                fixed.Zero(fixed.E12Decimals),
		YourVipUnclaimedRewardE8s:    fixed.Zero(fixed.E8Decimals),
		YourPledgeShares:             fixed.Zero(fixed.E8Decimals),
		YourPledgeUnclaimedRewardE8s: fixed.Zero(fixed.E8Decimals),
	}
}

// PoolMember is one row of the pool listing
type PoolMember struct {
	ID                    util.Principal `json:"id"`
	Share                 fixed.EDs      `json:"share"`
	UnclaimedReward       fixed.EDs      `json:"unclaimed_reward"`
	IsVerifiedViaDecideID bool           `json:"is_verified_via_decide_id"`
}

// UnmarshalJSON reads the wire tuple [principal, share_e12s, reward_e8s, verified]
// as well as the object form written by MarshalJSON.
func (m *PoolMember) UnmarshalJSON(data []byte) error {

	type plain PoolMember

	member := PoolMember{
		Share:           fixed.Zero(fixed.E12Decimals),
		UnclaimedReward: fixed.Zero(fixed.E8Decimals),
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, (*plain)(&member)); err != nil {
			return err
		}
		*m = member

		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return errors.Wrap(err, "pool entry must be a tuple")
	}

	if len(tuple) != 4 {
		return errors.Errorf("pool entry has %d fields, want 4", len(tuple))
	}

	if err := json.Unmarshal(tuple[0], &member.ID); err != nil {
		return err
	}

	if err := json.Unmarshal(tuple[1], &member.Share); err != nil {
		return err
	}

	if err := json.Unmarshal(tuple[2], &member.UnclaimedReward); err != nil {
		return err
	}

	if err := json.Unmarshal(tuple[3], &member.IsVerifiedViaDecideID); err != nil {
		return err
	}

	*m = member

	return nil
}

// MarshalJSON writes the object form used by the local API and cache
func (m PoolMember) MarshalJSON() ([]byte, error) {
	type plain PoolMember
	return json.Marshal(plain(m))
}

type GetSatslinkersRequest struct {
	Start *util.Principal `json:"start"`
	Take  uint32          `json:"take"`
}

type GetSatslinkersResponse struct {
	Entries []PoolMember `json:"entries"`
}

// PaymentRecord is immutable once the backend has created it
type PaymentRecord struct {
	Principal     util.Principal `json:"principal"`
	CanisterID    string         `json:"canister_id"`
	EthAddress    string         `json:"eth_address"`
	ExpiryTime    Nat64          `json:"expiry_time"`
	Amount        fixed.EDs      `json:"amount"`
	PaymentCreate Nat64          `json:"payment_create"`
}

type PaymentStats struct {
	TotalUsdValueAllUsers decimal.Decimal `json:"total_usd_value_all_users"`
	TotalUsdValueUser     decimal.Decimal `json:"total_usd_value_user"`
	UserPayments          []PaymentRecord `json:"user_payments"`
	AllPayments           []PaymentRecord `json:"all_payments"`
	UserVipExpiry         Nat64           `json:"user_vip_expiry"`
}

type TokenMetadata struct {
	Name     string
	Symbol   string
	Fee      fixed.EDs // raw fee, scaled by Decimals
	Decimals uint8
	Logo     string
}

type TokenPrice struct {
	Address  string  `json:"address"`
	PriceUSD float64 `json:"priceUSD"`
}

type TransferArgs struct {
	FromSubaccount *util.Subaccount `json:"from_subaccount,omitempty"`
	To             util.Account     `json:"to"`
	Amount         fixed.EDs        `json:"amount"`
	Fee            *fixed.EDs       `json:"fee,omitempty"`
	Memo           []byte           `json:"memo,omitempty"`
	CreatedAtTime  *Nat64           `json:"created_at_time,omitempty"`
}

type ApproveArgs struct {
	FromSubaccount    *util.Subaccount `json:"from_subaccount,omitempty"`
	Spender           util.Account     `json:"spender"`
	Amount            fixed.EDs        `json:"amount"`
	ExpectedAllowance *fixed.EDs       `json:"expected_allowance,omitempty"`
	ExpiresAt         *Nat64           `json:"expires_at,omitempty"`
	Fee               *fixed.EDs       `json:"fee,omitempty"`
	Memo              []byte           `json:"memo,omitempty"`
	CreatedAtTime     *Nat64           `json:"created_at_time,omitempty"`
}

type PurchaseRequest struct {
	QtyE8sU64 Nat64  `json:"qty_e8s_u64"`
	Address   string `json:"address"`
}

type WithdrawRequest struct {
	QtyE8s fixed.EDs      `json:"qty_e8s"`
	To     util.Principal `json:"to"`
}

type ClaimRewardRequest struct {
	To util.Principal `json:"to"`
}

type PayRequest struct {
	Amount     fixed.EDs `json:"amount"`
	EthAddress string    `json:"eth_address"`
	Token      string    `json:"token"`
}

type MigrateMsqAccountRequest struct {
	To util.Principal `json:"to"`
}

type VerifyDecideIDRequest struct {
	Jwt string `json:"jwt"`
}
