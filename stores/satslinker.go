package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/fixed"
	"satslink/linkclient"
	"satslink/notifications"
	"satslink/session"
	"satslink/util"
)

// Satslinker is the staking/rewards store
type Satslinker struct {
	Canister util.Principal

	auth        *session.Session
	tokens      *Tokens
	api         SatslinkerAPI
	credentials CredentialRequester
	hooks       *Hooks
	pageSize    uint32

	totals      *linkclient.Totals
	poolMembers []linkclient.PoolMember
	canMigrate  bool
	lock        sync.RWMutex
}

func NewSatslinker(cfg Config, tokens *Tokens) *Satslinker {
	return &Satslinker{
		Canister:    cfg.SatslinkerCanister,
		auth:        cfg.Auth,
		tokens:      tokens,
		api:         cfg.Satslinker,
		credentials: cfg.Credentials,
		hooks:       cfg.Hooks,
		pageSize:    cfg.PoolPageSize,
	}
}

// Restore loads totals and the pool listing from the local database
func (s *Satslinker) Restore() {

	totals := linkclient.NewTotals()
	var members []linkclient.PoolMember

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.hooks.load(CACHE_TOTALS, totals) {
		s.totals = totals
	}

	if s.hooks.load(CACHE_POOL, &members) {
		s.poolMembers = members
	}
}

// Totals returns a copy of the cached totals
func (s *Satslinker) Totals() (linkclient.Totals, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.totals == nil {
		return linkclient.Totals{}, false
	}

	return *s.totals, true
}

func (s *Satslinker) FetchTotals(ctx context.Context) error {

	if err := s.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	totals, err := s.api.GetTotals(ctx, s.auth.AgentOrAnonymous())
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.totals = totals
	s.lock.Unlock()

	s.hooks.save(CACHE_TOTALS, totals)
	s.hooks.publish(EVENT_TOTALS, totals)

	log.WithFields(log.Fields{
		"Round": totals.CurrentPosRound, "Minted": totals.TotalTokenMinted.String(),
	}).Debug("Fetched totals")

	return nil
}

func (s *Satslinker) PoolMembers() []linkclient.PoolMember {
	s.lock.RLock()
	defer s.lock.RUnlock()

	out := make([]linkclient.PoolMember, len(s.poolMembers))
	copy(out, s.poolMembers)

	return out
}

func (s *Satslinker) FetchPoolMembers(ctx context.Context) error {

	if err := s.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	agent := s.auth.AnonymousAgent()

	members, err := collectPoolMembers(ctx, func(ctx context.Context, start *util.Principal) ([]linkclient.PoolMember, error) {
		return s.api.GetSatslinkers(ctx, agent, start, s.pageSize)
	})
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.poolMembers = members
	s.lock.Unlock()

	s.hooks.save(CACHE_POOL, members)
	s.hooks.publish(EVENT_POOL, len(members))

	log.WithField("Members", len(members)).Debug("Fetched pool members")

	return nil
}

// MyDepositAccount is the staking canister account holding the caller's
// deposits. Absent until authorized and the subaccount is fetched.
func (s *Satslinker) MyDepositAccount() (util.Account, bool) {

	pid, ok := s.auth.Identity()
	if !ok {
		return util.Account{}, false
	}

	sub, ok := s.tokens.SubaccountOf(pid)
	if !ok {
		return util.Account{}, false
	}

	return util.Account{Owner: s.Canister, Subaccount: &sub}, true
}

func (s *Satslinker) depositBalance() (fixed.EDs, util.Account, bool) {

	acc, ok := s.MyDepositAccount()
	if !ok {
		return fixed.EDs{}, acc, false
	}

	b, ok := s.tokens.BalanceOf(s.tokens.Defaults.ICP, acc.Owner, acc.Subaccount)

	return b, acc, ok
}

// FetchDepositBalance refreshes the ICP balance of the deposit account
func (s *Satslinker) FetchDepositBalance(ctx context.Context) error {

	acc, ok := s.MyDepositAccount()
	if !ok {
		return nil
	}

	return s.tokens.FetchBalanceOf(ctx, s.tokens.Defaults.ICP, acc.Owner, acc.Subaccount)
}

func (s *Satslinker) CanStake() bool {
	if !s.auth.IsAuthorized() {
		return false
	}

	b, _, ok := s.depositBalance()
	if !ok {
		return false
	}

	return b.Gt(fixed.NewE8s(util.MIN_STAKE_E8S))
}

// Stake purchases pool shares with the whole deposit balance minus the fee
func (s *Satslinker) Stake(ctx context.Context) (fixed.EDs, error) {

	if err := s.auth.AssertAuthorized(); err != nil {
		return fixed.EDs{}, err
	}

	b, acc, ok := s.depositBalance()
	if !ok {
		return fixed.EDs{}, util.Err(util.ErrUnreachable, "deposit balance is not fetched")
	}

	qty, err := b.Sub(fixed.NewE8s(util.ICP_FEE))
	if err != nil {
		return fixed.EDs{}, util.Errf(util.ErrUnknown, "deposit balance %s does not cover the fee", b)
	}

	qtyRaw, err := qty.Uint64()
	if err != nil {
		return fixed.EDs{}, errors.Wrap(err, "Stake amount")
	}

	address, err := s.auth.EthAddress()
	if err != nil {
		return fixed.EDs{}, err
	}

	if err := s.auth.Disable(); err != nil {
		return fixed.EDs{}, err
	}

	err = s.api.Purchase(ctx, s.auth.Agent(), linkclient.PurchaseRequest{
		QtyE8sU64: linkclient.Nat64(qtyRaw),
		Address:   address,
	})

	s.auth.Enable()

	if err != nil {
		s.hooks.notify(notifications.ERROR, fmt.Sprintf("Stake failed: %s", err))
		return fixed.EDs{}, err
	}

	s.refetch(ctx, func(ctx context.Context) error { return s.FetchTotals(ctx) })
	s.refetch(ctx, func(ctx context.Context) error {
		return s.tokens.FetchBalanceOf(ctx, s.tokens.Defaults.ICP, acc.Owner, acc.Subaccount)
	})

	msg := fmt.Sprintf("Successfully satslinked %s ICP", b)
	log.Info(msg)
	s.hooks.notify(notifications.STAKE, msg)
	s.hooks.publish(EVENT_ACTION, msg)

	return qty, nil
}

func (s *Satslinker) CanWithdraw() bool {
	if !s.auth.IsAuthorized() {
		return false
	}

	b, _, ok := s.depositBalance()
	if !ok {
		return false
	}

	return b.Gt(fixed.NewE8s(util.MIN_WITHDRAW_E8S))
}

// Withdraw sends amount of ICP from the deposit account to `to`
func (s *Satslinker) Withdraw(ctx context.Context, amount fixed.EDs, to util.Principal) error {

	if err := s.auth.AssertAuthorized(); err != nil {
		return err
	}

	if amount.IsZero() {
		return util.Err(util.ErrUnknown, "withdraw amount must be positive")
	}

	if err := s.auth.Disable(); err != nil {
		return err
	}

	err := s.api.Withdraw(ctx, s.auth.Agent(), linkclient.WithdrawRequest{QtyE8s: amount, To: to})

	s.auth.Enable()

	if err != nil {
		s.hooks.notify(notifications.ERROR, fmt.Sprintf("Withdraw failed: %s", err))
		return err
	}

	s.refetch(ctx, s.FetchDepositBalance)
	s.refetch(ctx, s.FetchTotals)

	msg := fmt.Sprintf("Withdrew %s ICP to %s", amount, util.ShortPrincipal(to))
	log.Info(msg)
	s.hooks.notify(notifications.STAKE, msg)
	s.hooks.publish(EVENT_ACTION, msg)

	return nil
}

func (s *Satslinker) CanClaimReward() bool {
	if !s.auth.IsAuthorized() {
		return false
	}

	t, ok := s.Totals()
	if !ok {
		return false
	}

	return t.YourVipUnclaimedRewardE8s.Gt(fixed.Zero(fixed.E8Decimals))
}

func (s *Satslinker) ClaimReward(ctx context.Context, to util.Principal) (fixed.EDs, error) {

	if err := s.auth.AssertAuthorized(); err != nil {
		return fixed.EDs{}, err
	}

	if err := s.auth.Disable(); err != nil {
		return fixed.EDs{}, err
	}

	claimed, err := s.api.ClaimVipReward(ctx, s.auth.Agent(), linkclient.ClaimRewardRequest{To: to})

	s.auth.Enable()

	if err != nil {
		log.WithError(err).Error("Unable to claim reward")
		s.hooks.notify(notifications.ERROR, fmt.Sprintf("Claim failed: %s", err))
		return fixed.EDs{}, err
	}

	s.refetch(ctx, s.FetchTotals)

	msg := "Successfully claimed all SATSLINK!"
	log.WithField("Amount", claimed.String()).Info(msg)
	s.hooks.notify(notifications.CLAIM, msg)
	s.hooks.publish(EVENT_ACTION, msg)

	return claimed, nil
}

func (s *Satslinker) FetchCanMigrateMsqAccount(ctx context.Context) error {

	if err := s.auth.AssertAuthorized(); err != nil {
		return err
	}

	can, err := s.api.CanMigrateStlAccount(ctx, s.auth.Agent())
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.canMigrate = can
	s.lock.Unlock()

	return nil
}

func (s *Satslinker) resetMigrate() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.canMigrate = false
}

func (s *Satslinker) CanMigrateMsqAccount() bool {
	if !s.auth.IsAuthorized() {
		return false
	}

	s.lock.RLock()
	can := s.canMigrate
	s.lock.RUnlock()

	if !can {
		return false
	}

	return s.auth.Provider() != session.PROVIDER_II
}

// MigrateMsqAccount moves the caller's state to `to` (an II principal) and
// ends the current session.
func (s *Satslinker) MigrateMsqAccount(ctx context.Context, to util.Principal) error {

	if err := s.auth.AssertAuthorized(); err != nil {
		return err
	}

	if to.IsAnonymous() {
		return util.Err(util.ErrAuth, "migration target must be an authenticated principal")
	}

	if err := s.auth.Disable(); err != nil {
		return err
	}

	err := s.api.MigrateStlAccount(ctx, s.auth.Agent(), linkclient.MigrateMsqAccountRequest{To: to})

	s.auth.Enable()

	if err != nil {
		s.hooks.notify(notifications.ERROR, fmt.Sprintf("Migration failed: %s", err))
		return err
	}

	msg := fmt.Sprintf("Account migrated to %s", util.ShortPrincipal(to))
	log.Info(msg)
	s.hooks.notify(notifications.MIGRATE, msg)
	s.hooks.publish(EVENT_ACTION, msg)

	return s.auth.Deauthorize()
}

func (s *Satslinker) CanVerifyDecideID() bool {
	if !s.auth.IsAuthorized() {
		return false
	}

	t, ok := s.Totals()
	if !ok {
		return false
	}

	if s.auth.Provider() == session.PROVIDER_MSQ {
		return false
	}

	return !t.YourVipEligibilityStatus
}

// VerifyDecideID obtains a proof-of-uniqueness presentation for the caller
// and submits it to the staking canister.
func (s *Satslinker) VerifyDecideID(ctx context.Context) error {

	if err := s.auth.AssertAuthorized(); err != nil {
		return err
	}

	if s.credentials == nil {
		return util.Err(util.ErrUnreachable, "no credential relay configured")
	}

	pid, _ := s.auth.Identity()

	if err := s.auth.Disable(); err != nil {
		return err
	}

	err := s.verifyDecideID(ctx, pid)

	s.auth.Enable()

	if err != nil {
		s.hooks.notify(notifications.ERROR, fmt.Sprintf("DecideID verification failed: %s", err))
		return err
	}

	s.refetch(ctx, s.FetchTotals)

	msg := "Successfully verified via DecideID!"
	log.Info(msg)
	s.hooks.notify(notifications.CLAIM, msg)
	s.hooks.publish(EVENT_ACTION, msg)

	return nil
}

func (s *Satslinker) verifyDecideID(ctx context.Context, pid util.Principal) error {

	jwt, err := s.credentials.RequestJWT(ctx, pid)
	if err != nil {
		return util.WrapErr(util.ErrAuth, err, "Unable to obtain credential")
	}

	return s.api.VerifyDecideID(ctx, s.auth.Agent(), linkclient.VerifyDecideIDRequest{Jwt: jwt})
}

// refetch runs a follow-up fetch; a failure keeps the previous cache
func (s *Satslinker) refetch(ctx context.Context, f func(context.Context) error) {
	if err := f(ctx); err != nil {
		log.WithError(err).Warn("Unable to refresh after action")
	}
}
