package linkclient

import (
	"context"

	"github.com/pkg/errors"

	"satslink/fixed"
	"satslink/util"
)

// SatslinkerClient wraps the staking/payment canister
type SatslinkerClient struct {
	lc         *LinkClient
	CanisterID util.Principal
}

func (lc *LinkClient) Satslinker(canisterID util.Principal) *SatslinkerClient {
	return &SatslinkerClient{lc: lc, CanisterID: canisterID}
}

func (s *SatslinkerClient) id() string {
	return s.CanisterID.String()
}

func (s *SatslinkerClient) GetTotals(ctx context.Context, agent *Agent) (*Totals, error) {

	totals := NewTotals()
	if err := s.lc.Query(ctx, agent, s.id(), "get_totals", struct{}{}, totals); err != nil {
		return nil, errors.Wrap(err, "Unable to fetch totals")
	}

	return totals, nil
}

// GetSatslinkers returns one page of pool members after start (exclusive)
func (s *SatslinkerClient) GetSatslinkers(ctx context.Context, agent *Agent, start *util.Principal, take uint32) ([]PoolMember, error) {

	var resp GetSatslinkersResponse

	req := GetSatslinkersRequest{Start: start, Take: take}
	if err := s.lc.Query(ctx, agent, s.id(), "get_satslinkers", req, &resp); err != nil {
		return nil, errors.Wrap(err, "Unable to fetch pool members")
	}

	return resp.Entries, nil
}

func (s *SatslinkerClient) SubaccountOf(ctx context.Context, agent *Agent, p util.Principal) (util.Subaccount, error) {

	var sub util.Subaccount
	if err := s.lc.Query(ctx, agent, s.id(), "subaccount_of", p, &sub); err != nil {
		return sub, errors.Wrapf(err, "Unable to fetch subaccount of %s", p)
	}

	return sub, nil
}

// Purchase stakes qty e8s from the caller's deposit subaccount
func (s *SatslinkerClient) Purchase(ctx context.Context, agent *Agent, req PurchaseRequest) error {
	return errors.Wrap(s.lc.Update(ctx, agent, s.id(), "purchase", req, nil), "Purchase failed")
}

func (s *SatslinkerClient) Withdraw(ctx context.Context, agent *Agent, req WithdrawRequest) error {
	return errors.Wrap(s.lc.Update(ctx, agent, s.id(), "withdraw", req, nil), "Withdraw failed")
}

// ClaimVipReward returns the amount transferred to req.To
func (s *SatslinkerClient) ClaimVipReward(ctx context.Context, agent *Agent, req ClaimRewardRequest) (fixed.EDs, error) {

	var resp struct {
		Result result `json:"result"`
	}

	if err := s.lc.Update(ctx, agent, s.id(), "claim_vip_reward", req, &resp); err != nil {
		return fixed.EDs{}, errors.Wrap(err, "Claim failed")
	}

	claimed := fixed.Zero(fixed.E8Decimals)
	if err := resp.Result.decode(&claimed); err != nil {
		return fixed.EDs{}, err
	}

	return claimed, nil
}

// Pay returns the backend's payment index
func (s *SatslinkerClient) Pay(ctx context.Context, agent *Agent, req PayRequest) (Nat64, error) {

	var res result
	if err := s.lc.Update(ctx, agent, s.id(), "pay", req, &res); err != nil {
		return 0, errors.Wrap(err, "Pay failed")
	}

	var idx Nat64
	if err := res.decode(&idx); err != nil {
		return 0, err
	}

	return idx, nil
}

func (s *SatslinkerClient) GetPaymentStats(ctx context.Context, agent *Agent) (*PaymentStats, error) {

	var res result
	if err := s.lc.Query(ctx, agent, s.id(), "get_payment_stats", struct{}{}, &res); err != nil {
		return nil, errors.Wrap(err, "Unable to fetch payment stats")
	}

	stats := &PaymentStats{}
	if err := res.decode(stats); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *SatslinkerClient) GetPaymentsByEthAddress(ctx context.Context, agent *Agent, ethAddress string) ([]PaymentRecord, error) {

	var records []PaymentRecord
	if err := s.lc.Query(ctx, agent, s.id(), "get_payments_by_eth_address", ethAddress, &records); err != nil {
		return nil, errors.Wrapf(err, "Unable to fetch payments of %s", ethAddress)
	}

	return records, nil
}

func (s *SatslinkerClient) GetPaymentUserCount(ctx context.Context, agent *Agent) (uint64, error) {

	var count Nat64
	if err := s.lc.Query(ctx, agent, s.id(), "get_payment_user_count", struct{}{}, &count); err != nil {
		return 0, errors.Wrap(err, "Unable to fetch payment user count")
	}

	return uint64(count), nil
}

func (s *SatslinkerClient) MigrateStlAccount(ctx context.Context, agent *Agent, req MigrateMsqAccountRequest) error {
	return errors.Wrap(s.lc.Update(ctx, agent, s.id(), "migrate_stl_account", req, nil), "Migration failed")
}

func (s *SatslinkerClient) CanMigrateStlAccount(ctx context.Context, agent *Agent) (bool, error) {

	var can bool
	if err := s.lc.Query(ctx, agent, s.id(), "can_migrate_stl_account", struct{}{}, &can); err != nil {
		return false, errors.Wrap(err, "Unable to check migration")
	}

	return can, nil
}

func (s *SatslinkerClient) VerifyDecideID(ctx context.Context, agent *Agent, req VerifyDecideIDRequest) error {
	return errors.Wrap(s.lc.Update(ctx, agent, s.id(), "verify_decide_id", req, nil), "DecideID verification failed")
}
