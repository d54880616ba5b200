package stores

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"satslink/fixed"
	"satslink/linkclient"
	"satslink/notifications"
	"satslink/session"
	"satslink/util"
)

// Payments is the VIP payments store
type Payments struct {
	auth       *session.Session
	tokens     *Tokens
	satslinker *Satslinker
	api        SatslinkerAPI
	hooks      *Hooks

	stats     *linkclient.PaymentStats
	userCount *uint64
	byEth     map[string][]linkclient.PaymentRecord
	lock      sync.RWMutex
}

func NewPayments(cfg Config, tokens *Tokens, satslinker *Satslinker) *Payments {
	return &Payments{
		auth:       cfg.Auth,
		tokens:     tokens,
		satslinker: satslinker,
		api:        cfg.Satslinker,
		hooks:      cfg.Hooks,
		byEth:      make(map[string][]linkclient.PaymentRecord),
	}
}

func (p *Payments) Restore() {

	stats := &linkclient.PaymentStats{}
	var count uint64
	var byEth map[string][]linkclient.PaymentRecord

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.hooks.load(CACHE_PAYMENTS, stats) {
		p.stats = stats
	}

	if p.hooks.load(CACHE_PAYMENT_USERS, &count) {
		p.userCount = &count
	}

	if p.hooks.load(CACHE_PAYMENTS_BY_ETH, &byEth) {
		for k, v := range byEth {
			p.byEth[k] = v
		}
	}
}

func (p *Payments) Stats() (linkclient.PaymentStats, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.stats == nil {
		return linkclient.PaymentStats{}, false
	}

	return *p.stats, true
}

// MyPayments are the caller's records from the last stats fetch
func (p *Payments) MyPayments() []linkclient.PaymentRecord {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.stats == nil {
		return nil
	}

	return append([]linkclient.PaymentRecord(nil), p.stats.UserPayments...)
}

func (p *Payments) UserCount() (uint64, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.userCount == nil {
		return 0, false
	}

	return *p.userCount, true
}

func (p *Payments) PaymentsByEthAddress(addr string) ([]linkclient.PaymentRecord, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	records, ok := p.byEth[strings.ToLower(addr)]

	return records, ok
}

// FetchAllPayments loads payment stats; the caller's figures are included
// when a session exists.
func (p *Payments) FetchAllPayments(ctx context.Context) error {

	if err := p.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	stats, err := p.api.GetPaymentStats(ctx, p.auth.AgentOrAnonymous())
	if err != nil {
		return err
	}

	p.lock.Lock()
	p.stats = stats
	p.lock.Unlock()

	p.hooks.save(CACHE_PAYMENTS, stats)
	p.hooks.publish(EVENT_PAYMENTS, stats)

	log.WithFields(log.Fields{
		"Payments": len(stats.AllPayments), "TotalUSD": stats.TotalUsdValueAllUsers.String(),
	}).Debug("Fetched payment stats")

	return nil
}

func (p *Payments) FetchPaymentUserCount(ctx context.Context) error {

	if err := p.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	count, err := p.api.GetPaymentUserCount(ctx, p.auth.AnonymousAgent())
	if err != nil {
		return err
	}

	p.lock.Lock()
	p.userCount = &count
	p.lock.Unlock()

	p.hooks.save(CACHE_PAYMENT_USERS, count)

	return nil
}

func (p *Payments) FetchPaymentsByEthAddress(ctx context.Context, addr string) error {

	if err := p.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	normalized, err := util.NormalizeEthAddress(addr)
	if err != nil {
		return util.WrapErr(util.ErrUnknown, err, "Invalid address")
	}

	records, err := p.api.GetPaymentsByEthAddress(ctx, p.auth.AnonymousAgent(), normalized)
	if err != nil {
		return err
	}

	p.lock.Lock()
	p.byEth[strings.ToLower(normalized)] = records
	snapshot := make(map[string][]linkclient.PaymentRecord, len(p.byEth))
	for k, v := range p.byEth {
		snapshot[k] = v
	}
	p.lock.Unlock()

	p.hooks.save(CACHE_PAYMENTS_BY_ETH, snapshot)

	return nil
}

func (p *Payments) CanPay() bool {
	if !p.auth.IsAuthorized() {
		return false
	}

	if _, ok := p.tokens.Metadata(p.tokens.Defaults.ICP); !ok {
		return false
	}

	b, _, ok := p.satslinker.depositBalance()
	if !ok {
		return false
	}

	return b.Ge(fixed.NewE8s(util.MIN_PAY_E8S))
}

// PartialPayError is returned when the approval went through but the payment
// did not. The allowance stays on the ledger.
type PartialPayError struct {
	ApproveBlock linkclient.Nat64
	Allowance    fixed.EDs
	Cause        error
}

func (e *PartialPayError) Error() string {
	return fmt.Sprintf("payment failed after approval #%d; allowance of %s remains in place: %s",
		e.ApproveBlock, e.Allowance, e.Cause)
}

func (e *PartialPayError) Unwrap() error {
	return e.Cause
}

// Pay approves the staking canister for amount plus fee from the deposit
// subaccount, then pays. There is no rollback if the second step fails.
func (p *Payments) Pay(ctx context.Context, amount fixed.EDs, ethAddress string, token util.Principal) (linkclient.Nat64, error) {

	if err := p.auth.AssertAuthorized(); err != nil {
		return 0, err
	}

	if amount.Lt(fixed.NewE8s(util.MIN_PAY_E8S)) {
		return 0, util.Errf(util.ErrUnknown, "minimum payment is %s", fixed.NewE8s(util.MIN_PAY_E8S))
	}

	address, err := util.NormalizeEthAddress(ethAddress)
	if err != nil {
		return 0, util.WrapErr(util.ErrUnknown, err, "Invalid payment address")
	}

	fee := fixed.NewE8s(util.ICP_FEE)
	if meta, ok := p.tokens.Metadata(token); ok {
		fee = meta.Fee
	}
	allowance := amount.Add(fee)

	if err := p.auth.Disable(); err != nil {
		return 0, err
	}

	idx, err := p.pay(ctx, amount, allowance, address, token)

	p.auth.Enable()

	p.refetchAfterPay(ctx)

	if err != nil {
		log.WithError(err).Error("Payment failed")
		p.hooks.notify(notifications.ERROR, err.Error())
		return 0, err
	}

	msg := fmt.Sprintf("Paid %s for %s", amount, address)
	log.WithField("Index", idx).Info(msg)
	p.hooks.notify(notifications.PAY, msg)
	p.hooks.publish(EVENT_ACTION, msg)

	return idx, nil
}

func (p *Payments) pay(ctx context.Context, amount, allowance fixed.EDs, address string, token util.Principal) (linkclient.Nat64, error) {

	approveBlock, err := p.tokens.approve(ctx, token, p.satslinker.Canister, allowance)
	if err != nil {
		return 0, err
	}

	idx, err := p.api.Pay(ctx, p.auth.Agent(), linkclient.PayRequest{
		Amount:     amount,
		EthAddress: address,
		Token:      token.String(),
	})
	if err != nil {
		return 0, util.WrapErr(util.CodeOf(err), &PartialPayError{
			ApproveBlock: approveBlock,
			Allowance:    allowance,
			Cause:        err,
		}, "Pay")
	}

	return idx, nil
}

func (p *Payments) refetchAfterPay(ctx context.Context) {

	if err := p.FetchAllPayments(ctx); err != nil {
		log.WithError(err).Warn("Unable to refresh payments")
	}

	if err := p.satslinker.FetchDepositBalance(ctx); err != nil {
		log.WithError(err).Warn("Unable to refresh deposit balance")
	}
}
