package stores

import (
	"context"
	_ "embed"
	"encoding/base64"
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

//go:embed icp_logo.svg
var icpLogoSVG []byte

// ICPLogo is used when the ICP ledger does not publish icrc1:logo
var ICPLogo = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(icpLogoSVG)

type TokenMetadata struct {
	ID       util.Principal `json:"id"`
	Name     string         `json:"name"`
	Ticker   string         `json:"ticker"`
	Fee      fixed.EDs      `json:"fee"`
	Decimals uint8          `json:"decimals"`
	Logo     string         `json:"logo"`
}

type balanceKey struct {
	token util.Principal
	owner util.Principal
	sub   util.Subaccount
}

// Balance is one cached balance, as served on the local API
type Balance struct {
	Token      util.Principal  `json:"token"`
	Owner      util.Principal  `json:"owner"`
	Subaccount util.Subaccount `json:"subaccount"`
	Amount     fixed.EDs       `json:"amount"`
}

type Tokens struct {
	Defaults DefaultTokens

	auth       *session.Session
	ledgers    LedgerFactory
	satslinker SatslinkerAPI
	price      PriceAPI
	hooks      *Hooks

	balances    map[balanceKey]fixed.EDs
	subaccounts map[util.Principal]util.Subaccount
	metadata    map[util.Principal]TokenMetadata
	rates       map[string]fixed.EDs
	lock        sync.RWMutex
}

func NewTokens(cfg Config) *Tokens {
	return &Tokens{
		Defaults:    cfg.Defaults,
		auth:        cfg.Auth,
		ledgers:     cfg.Ledgers,
		satslinker:  cfg.Satslinker,
		price:       cfg.Price,
		hooks:       cfg.Hooks,
		balances:    make(map[balanceKey]fixed.EDs),
		subaccounts: make(map[util.Principal]util.Subaccount),
		metadata:    make(map[util.Principal]TokenMetadata),
		rates:       make(map[string]fixed.EDs),
	}
}

// Restore loads metadata, subaccounts and rates. Balances are never restored
// so that spend predicates only open on fresh data.
func (t *Tokens) Restore() {

	var metadata map[util.Principal]TokenMetadata
	var subaccounts map[util.Principal]util.Subaccount
	var rates map[string]fixed.EDs

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.hooks.load(CACHE_METADATA, &metadata) {
		for k, v := range metadata {
			v.Fee, _ = fixed.FromBig(v.Fee.Raw(), v.Decimals)
			t.metadata[k] = v
		}
	}

	if t.hooks.load(CACHE_SUBACCOUNTS, &subaccounts) {
		for k, v := range subaccounts {
			t.subaccounts[k] = v
		}
	}

	if t.hooks.load(CACHE_RATES, &rates) {
		for k, v := range rates {
			t.rates[k] = v
		}
	}
}

func (t *Tokens) BalanceOf(token, owner util.Principal, sub *util.Subaccount) (fixed.EDs, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	b, ok := t.balances[balanceKey{token: token, owner: owner, sub: util.OrDefault(sub)}]

	return b, ok
}

// Balances lists every cached balance
func (t *Tokens) Balances() []Balance {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make([]Balance, 0, len(t.balances))
	for k, v := range t.balances {
		out = append(out, Balance{Token: k.token, Owner: k.owner, Subaccount: k.sub, Amount: v})
	}

	return out
}

func (t *Tokens) FetchBalanceOf(ctx context.Context, token, owner util.Principal, sub *util.Subaccount) error {

	if err := t.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	account := util.Account{Owner: owner, Subaccount: sub}

	balance, err := t.ledgers(token).BalanceOf(ctx, t.auth.AnonymousAgent(), account)
	if err != nil {
		return err
	}

	if meta, ok := t.Metadata(token); ok {
		balance, _ = fixed.FromBig(balance.Raw(), meta.Decimals)
	}

	t.lock.Lock()
	t.balances[balanceKey{token: token, owner: owner, sub: util.OrDefault(sub)}] = balance
	t.lock.Unlock()

	log.WithFields(log.Fields{
		"Token": token.String(), "Account": account.String(), "Balance": balance.String(),
	}).Debug("Fetched balance")

	t.hooks.publish(EVENT_BALANCES, Balance{Token: token, Owner: owner, Subaccount: util.OrDefault(sub), Amount: balance})

	return nil
}

func (t *Tokens) SubaccountOf(p util.Principal) (util.Subaccount, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	s, ok := t.subaccounts[p]

	return s, ok
}

// FetchSubaccountOf asks the staking canister for p's deposit subaccount
func (t *Tokens) FetchSubaccountOf(ctx context.Context, p util.Principal) error {

	if err := t.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	sub, err := t.satslinker.SubaccountOf(ctx, t.auth.AnonymousAgent(), p)
	if err != nil {
		return err
	}

	t.lock.Lock()
	t.subaccounts[p] = sub
	snapshot := make(map[util.Principal]util.Subaccount, len(t.subaccounts))
	for k, v := range t.subaccounts {
		snapshot[k] = v
	}
	t.lock.Unlock()

	t.hooks.save(CACHE_SUBACCOUNTS, snapshot)

	return nil
}

func (t *Tokens) Metadata(token util.Principal) (TokenMetadata, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	m, ok := t.metadata[token]

	return m, ok
}

func (t *Tokens) AllMetadata() map[util.Principal]TokenMetadata {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make(map[util.Principal]TokenMetadata, len(t.metadata))
	for k, v := range t.metadata {
		out[k] = v
	}

	return out
}

func (t *Tokens) FetchMetadata(ctx context.Context, token util.Principal) error {

	if err := t.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	m, err := t.ledgers(token).Metadata(ctx, t.auth.AnonymousAgent())
	if err != nil {
		return err
	}

	logo := m.Logo
	if logo == "" && token.Equal(t.Defaults.ICP) {
		logo = ICPLogo
	}

	meta := TokenMetadata{
		ID:       token,
		Name:     m.Name,
		Ticker:   m.Symbol,
		Fee:      m.Fee,
		Decimals: m.Decimals,
		Logo:     logo,
	}

	t.lock.Lock()
	t.metadata[token] = meta
	snapshot := make(map[util.Principal]TokenMetadata, len(t.metadata))
	for k, v := range t.metadata {
		snapshot[k] = v
	}
	t.lock.Unlock()

	t.hooks.save(CACHE_METADATA, snapshot)
	t.hooks.publish(EVENT_METADATA, meta)

	return nil
}

func (t *Tokens) UsdRate(token util.Principal) (fixed.EDs, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	r, ok := t.rates[token.String()]

	return r, ok
}

func (t *Tokens) UsdRates() map[string]fixed.EDs {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make(map[string]fixed.EDs, len(t.rates))
	for k, v := range t.rates {
		out[k] = v
	}

	return out
}

func (t *Tokens) HasUsdRates() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.rates) > 0
}

// FetchUsdExchangeRates stores every quote as E8s; unusable quotes are skipped
func (t *Tokens) FetchUsdExchangeRates(ctx context.Context) error {

	if err := t.auth.AssertReadyToFetch(); err != nil {
		return err
	}

	prices, err := t.price.GetAllTokens(ctx, t.auth.AnonymousAgent())
	if err != nil {
		return err
	}

	rates := make(map[string]fixed.EDs, len(prices))
	for _, p := range prices {
		rate, err := fixed.FromFloat(p.PriceUSD, fixed.E8Decimals, fixed.RoundDown)
		if err != nil {
			log.WithError(err).WithField("Token", p.Address).Trace("Skipping USD quote")
			continue
		}
		rates[p.Address] = rate
	}

	t.lock.Lock()
	for k, v := range rates {
		t.rates[k] = v
	}
	t.lock.Unlock()

	t.hooks.save(CACHE_RATES, t.UsdRates())
	t.hooks.publish(EVENT_RATES, len(rates))

	log.WithField("Count", len(rates)).Debug("Fetched USD exchange rates")

	return nil
}

// UsdValue converts qty of token to USD, when a rate is known
func (t *Tokens) UsdValue(token util.Principal, qty fixed.EDs) (fixed.EDs, bool) {
	rate, ok := t.UsdRate(token)
	if !ok {
		return fixed.EDs{}, false
	}

	return rate.Mul(qty, fixed.RoundDown), true
}

func (t *Tokens) CanTransfer(token util.Principal) bool {
	if !t.auth.IsAuthorized() {
		return false
	}

	_, ok := t.Metadata(token)

	return ok
}

// Transfer sends qty of token from the caller's main account to `to`
func (t *Tokens) Transfer(ctx context.Context, token util.Principal, qty fixed.EDs, to util.Principal) (linkclient.Nat64, error) {

	if err := t.auth.AssertAuthorized(); err != nil {
		return 0, err
	}

	meta, ok := t.Metadata(token)
	if !ok {
		return 0, util.Errf(util.ErrUnreachable, "metadata of %s is not fetched", token)
	}

	if err := t.auth.Disable(); err != nil {
		return 0, err
	}
	defer t.auth.Enable()

	now := linkclient.Nat64(util.NowNanos())
	fee := meta.Fee

	blockIdx, err := t.ledgers(token).Transfer(ctx, t.auth.Agent(), linkclient.TransferArgs{
		To:            util.Account{Owner: to},
		Amount:        qty,
		Fee:           &fee,
		CreatedAtTime: &now,
	})
	if err != nil {
		t.hooks.notify(notifications.ERROR, fmt.Sprintf("Transfer of %s %s failed: %s", qty, meta.Ticker, err))
		return 0, util.WrapErr(util.ErrNetwork, err, "Transfer failed")
	}

	msg := fmt.Sprintf("Transferred %s %s at #%d", qty, meta.Ticker, blockIdx)
	log.Info(msg)
	t.hooks.notify(notifications.TRANSFER, msg)
	t.hooks.publish(EVENT_ACTION, msg)

	return blockIdx, nil
}

func (t *Tokens) CanApprove(token util.Principal) bool {
	return t.CanTransfer(token)
}

// Approve lets spender draw qty of token from the caller's deposit subaccount
func (t *Tokens) Approve(ctx context.Context, token, spender util.Principal, qty fixed.EDs) (linkclient.Nat64, error) {

	if err := t.auth.AssertAuthorized(); err != nil {
		return 0, err
	}

	if _, ok := t.Metadata(token); !ok {
		return 0, util.Errf(util.ErrUnreachable, "metadata of %s is not fetched", token)
	}

	if err := t.auth.Disable(); err != nil {
		return 0, err
	}
	defer t.auth.Enable()

	blockIdx, err := t.approve(ctx, token, spender, qty)
	if err != nil {
		t.hooks.notify(notifications.ERROR, err.Error())
		return 0, err
	}

	return blockIdx, nil
}

// approve does not touch the busy flag so composite actions can use it
func (t *Tokens) approve(ctx context.Context, token, spender util.Principal, qty fixed.EDs) (linkclient.Nat64, error) {

	pid, ok := t.auth.Identity()
	if !ok {
		return 0, util.Err(util.ErrAuth, "Not authorized")
	}

	sub, ok := t.SubaccountOf(pid)
	if !ok {
		if err := t.FetchSubaccountOf(ctx, pid); err != nil {
			return 0, errors.Wrap(err, "Unable to resolve deposit subaccount")
		}
		sub, _ = t.SubaccountOf(pid)
	}

	blockIdx, err := t.ledgers(token).Approve(ctx, t.auth.Agent(), linkclient.ApproveArgs{
		FromSubaccount: &sub,
		Spender:        util.Account{Owner: spender},
		Amount:         qty,
	})
	if err != nil {
		return 0, util.WrapErr(util.ErrNetwork, err, fmt.Sprintf("Approve of %s to %s failed", qty, spender))
	}

	log.WithFields(log.Fields{
		"Token": token.String(), "Spender": spender.String(), "Amount": qty.String(), "Block": blockIdx,
	}).Info("Approved")

	return blockIdx, nil
}

// CanClaimLost is true when either default token has a known, non-zero
// balance on the caller's main account.
func (t *Tokens) CanClaimLost() bool {

	pid, ok := t.auth.Identity()
	if !ok {
		return false
	}

	for _, token := range t.Defaults.List() {
		if b, ok := t.BalanceOf(token, pid, nil); ok && !b.IsZero() {
			return true
		}
	}

	return false
}

// ClaimLost moves every default token sitting on the caller's main account
// to recipient, minus the fee. A failure on one token does not stop the
// next; all failures are returned together.
func (t *Tokens) ClaimLost(ctx context.Context, recipient util.Principal) error {

	if err := t.auth.AssertAuthorized(); err != nil {
		return err
	}

	pid, _ := t.auth.Identity()

	var failures []string

	for _, token := range t.Defaults.List() {

		balance, ok := t.BalanceOf(token, pid, nil)
		if !ok || balance.IsZero() {
			continue
		}

		if err := t.claimLostToken(ctx, token, balance, recipient); err != nil {
			log.WithError(err).WithField("Token", token.String()).Error("Unable to claim lost tokens")
			t.hooks.notify(notifications.ERROR, err.Error())
			failures = append(failures, err.Error())
		}
	}

	for _, token := range t.Defaults.List() {
		if err := t.FetchBalanceOf(ctx, token, pid, nil); err != nil {
			log.WithError(err).WithField("Token", token.String()).Warn("Unable to refetch balance")
		}
	}

	if len(failures) > 0 {
		return util.Errf(util.ErrNetwork, "claim lost failed: %v", failures)
	}

	return nil
}

func (t *Tokens) claimLostToken(ctx context.Context, token util.Principal, balance fixed.EDs, recipient util.Principal) error {

	if err := t.auth.Disable(); err != nil {
		return err
	}
	defer t.auth.Enable()

	ticker := token.String()
	fee := fixed.New(util.ICP_FEE, balance.Decimals())

	if meta, ok := t.Metadata(token); ok {
		ticker = meta.Ticker
		fee = meta.Fee
	}

	qty, err := balance.Sub(fee)
	if err != nil || qty.IsZero() {
		return errors.Errorf("%s balance %s does not cover the fee", ticker, balance)
	}

	log.WithField("Token", ticker).Info("Claiming lost tokens")

	if _, err := t.ledgers(token).Transfer(ctx, t.auth.Agent(), linkclient.TransferArgs{
		To:     util.Account{Owner: recipient},
		Amount: qty,
	}); err != nil {
		return util.WrapErr(util.ErrNetwork, err, fmt.Sprintf("Claiming lost %s failed", ticker))
	}

	msg := fmt.Sprintf("Successfully claimed %s %s!", qty, ticker)
	log.Info(msg)
	t.hooks.notify(notifications.TRANSFER, msg)
	t.hooks.publish(EVENT_ACTION, msg)

	return nil
}
