// Package stores keeps read-through caches of remote state, derives the
// eligibility predicates from them and dispatches user actions. Every cache
// is last-write-wins; a missing entry means "not fetched yet", never zero.
package stores

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"satslink/fixed"
	"satslink/linkclient"
	"satslink/session"
	"satslink/util"
)

// Feed events published after a cache changes
const (
	EVENT_TOTALS   = "totals"
	EVENT_POOL     = "pool"
	EVENT_BALANCES = "balances"
	EVENT_METADATA = "metadata"
	EVENT_RATES    = "rates"
	EVENT_PAYMENTS = "payments"
	EVENT_ACTION   = "action"
)

// Cache keys in the local database
const (
	CACHE_TOTALS          = "totals"
	CACHE_POOL            = "pool"
	CACHE_PAYMENTS        = "payments"
	CACHE_PAYMENT_USERS   = "paymentusers"
	CACHE_PAYMENTS_BY_ETH = "paymentsbyeth"
	CACHE_METADATA        = "metadata"
	CACHE_SUBACCOUNTS     = "subaccounts"
	CACHE_RATES           = "rates"
)

type LedgerAPI interface {
	BalanceOf(ctx context.Context, agent *linkclient.Agent, account util.Account) (fixed.EDs, error)
	Transfer(ctx context.Context, agent *linkclient.Agent, args linkclient.TransferArgs) (linkclient.Nat64, error)
	Approve(ctx context.Context, agent *linkclient.Agent, args linkclient.ApproveArgs) (linkclient.Nat64, error)
	Metadata(ctx context.Context, agent *linkclient.Agent) (*linkclient.TokenMetadata, error)
}

// LedgerFactory returns the ledger client of a token
type LedgerFactory func(tokenID util.Principal) LedgerAPI

type SatslinkerAPI interface {
	GetTotals(ctx context.Context, agent *linkclient.Agent) (*linkclient.Totals, error)
	GetSatslinkers(ctx context.Context, agent *linkclient.Agent, start *util.Principal, take uint32) ([]linkclient.PoolMember, error)
	SubaccountOf(ctx context.Context, agent *linkclient.Agent, p util.Principal) (util.Subaccount, error)
	Purchase(ctx context.Context, agent *linkclient.Agent, req linkclient.PurchaseRequest) error
	Withdraw(ctx context.Context, agent *linkclient.Agent, req linkclient.WithdrawRequest) error
	ClaimVipReward(ctx context.Context, agent *linkclient.Agent, req linkclient.ClaimRewardRequest) (fixed.EDs, error)
	Pay(ctx context.Context, agent *linkclient.Agent, req linkclient.PayRequest) (linkclient.Nat64, error)
	GetPaymentStats(ctx context.Context, agent *linkclient.Agent) (*linkclient.PaymentStats, error)
	GetPaymentsByEthAddress(ctx context.Context, agent *linkclient.Agent, ethAddress string) ([]linkclient.PaymentRecord, error)
	GetPaymentUserCount(ctx context.Context, agent *linkclient.Agent) (uint64, error)
	MigrateStlAccount(ctx context.Context, agent *linkclient.Agent, req linkclient.MigrateMsqAccountRequest) error
	CanMigrateStlAccount(ctx context.Context, agent *linkclient.Agent) (bool, error)
	VerifyDecideID(ctx context.Context, agent *linkclient.Agent, req linkclient.VerifyDecideIDRequest) error
}

type PriceAPI interface {
	GetAllTokens(ctx context.Context, agent *linkclient.Agent) ([]linkclient.TokenPrice, error)
}

// Cache persists display caches across restarts
type Cache interface {
	PutCache(key string, value interface{}) error
	GetCache(key string, out interface{}) (bool, error)
}

type Publisher interface {
	Publish(event string, payload interface{})
}

type Notifier interface {
	Notify(category, message string)
}

// CredentialRequester obtains a verifiable presentation JWT for subject
type CredentialRequester interface {
	RequestJWT(ctx context.Context, subject util.Principal) (string, error)
}

// Hooks are the optional side channels of every store
type Hooks struct {
	Cache     Cache
	Publisher Publisher
	Notifier  Notifier
}

func (h *Hooks) save(key string, value interface{}) {
	if h == nil || h.Cache == nil {
		return
	}

	if err := h.Cache.PutCache(key, value); err != nil {
		log.WithError(err).WithField("Key", key).Warn("Unable to cache")
	}
}

func (h *Hooks) load(key string, out interface{}) bool {
	if h == nil || h.Cache == nil {
		return false
	}

	found, err := h.Cache.GetCache(key, out)
	if err != nil {
		log.WithError(err).WithField("Key", key).Warn("Unable to restore cache")
		return false
	}

	return found
}

func (h *Hooks) publish(event string, payload interface{}) {
	if h == nil || h.Publisher == nil {
		return
	}

	h.Publisher.Publish(event, payload)
}

func (h *Hooks) notify(category, message string) {
	if h == nil || h.Notifier == nil {
		return
	}

	h.Notifier.Notify(category, message)
}

// DefaultTokens are the two ledgers the daemon always tracks
type DefaultTokens struct {
	ICP      util.Principal
	Satslink util.Principal
}

func (d DefaultTokens) List() []util.Principal {
	return []util.Principal{d.Satslink, d.ICP}
}

type Config struct {
	Auth        *session.Session
	Ledgers     LedgerFactory
	Satslinker  SatslinkerAPI
	Price       PriceAPI
	Credentials CredentialRequester
	Hooks       *Hooks

	Defaults           DefaultTokens
	SatslinkerCanister util.Principal
	PoolPageSize       uint32
}

// Stores bundles the three stores and reacts to session changes
type Stores struct {
	Tokens     *Tokens
	Satslinker *Satslinker
	Payments   *Payments

	auth *session.Session
}

func New(cfg Config) *Stores {

	if cfg.PoolPageSize == 0 {
		cfg.PoolPageSize = util.DEFAULT_POOL_TAKE
	}

	tokens := NewTokens(cfg)
	satslinker := NewSatslinker(cfg, tokens)
	payments := NewPayments(cfg, tokens, satslinker)

	return &Stores{
		Tokens:     tokens,
		Satslinker: satslinker,
		Payments:   payments,
		auth:       cfg.Auth,
	}
}

// Restore warms the display caches from the local database
func (s *Stores) Restore() {
	s.Tokens.Restore()
	s.Satslinker.Restore()
	s.Payments.Restore()
}

// Bind refetches the caller's state whenever the session changes
func (s *Stores) Bind(ctx context.Context) {
	s.auth.OnChange(func(authorized bool, provider session.Provider) {
		if !authorized {
			s.Satslinker.resetMigrate()
			return
		}

		go func() {
			if err := s.FetchAuthorized(ctx); err != nil {
				log.WithError(err).Error("Unable to refresh after authorization")
			}
		}()
	})
}

// FetchInitial loads everything that does not need a session. Fetches are
// independent: one failing leaves the others to complete, and the first
// error is returned. USD rates are display only and never fail the warm-up.
func (s *Stores) FetchInitial(ctx context.Context) error {

	var g errgroup.Group

	if !s.Tokens.HasUsdRates() {
		g.Go(func() error {
			if err := s.Tokens.FetchUsdExchangeRates(ctx); err != nil {
				log.WithError(err).Warn("Unable to fetch USD exchange rates")
			}
			return nil
		})
	}

	for _, token := range s.Tokens.Defaults.List() {
		token := token
		g.Go(func() error { return s.Tokens.FetchMetadata(ctx, token) })
	}

	g.Go(func() error { return s.Satslinker.FetchTotals(ctx) })
	g.Go(func() error { return s.Payments.FetchAllPayments(ctx) })

	return g.Wait()
}

// FetchAuthorized loads the caller's balances, deposit subaccount and
// deposit balance, then the caller-specific totals.
func (s *Stores) FetchAuthorized(ctx context.Context) error {

	pid, ok := s.auth.Identity()
	if !ok {
		return nil
	}

	var g errgroup.Group

	for _, token := range s.Tokens.Defaults.List() {
		token := token
		g.Go(func() error { return s.Tokens.FetchBalanceOf(ctx, token, pid, nil) })
	}

	g.Go(func() error {
		if err := s.Tokens.FetchSubaccountOf(ctx, pid); err != nil {
			return err
		}
		return s.Satslinker.FetchDepositBalance(ctx)
	})

	g.Go(func() error { return s.Satslinker.FetchTotals(ctx) })

	if s.auth.Provider() == session.PROVIDER_MSQ {
		g.Go(func() error { return s.Satslinker.FetchCanMigrateMsqAccount(ctx) })
	}

	return g.Wait()
}
