package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satslink/linkclient"
	"satslink/metrics"
	"satslink/session"
	"satslink/stores"
	"satslink/util"
)

func mustPrincipal(b ...byte) util.Principal {
	p, err := util.PrincipalFromBytes(b)
	if err != nil {
		panic(err)
	}
	return p
}

var (
	satslinker = mustPrincipal(0, 0, 0, 0, 2, 48, 0, 9, 1, 1)
	satsToken  = mustPrincipal(0, 0, 0, 0, 2, 48, 0, 7, 1, 1)
)

func writeEnvFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	return path
}

func TestReadEnvProcessOverridesFile(t *testing.T) {

	path := writeEnvFile(t, "SATSLINKER_CANISTER_ID="+satslinker.String()+"\nGATEWAY_URL=http://file.example\n")
	t.Setenv(ENV_GATEWAY_URL, "http://process.example")

	vals, err := readEnv(path)
	require.NoError(t, err)

	assert.Equal(t, satslinker.String(), vals[ENV_SATSLINKER_CANISTER_ID])
	assert.Equal(t, "http://process.example", vals[ENV_GATEWAY_URL])
}

func TestReadEnvMissingFile(t *testing.T) {

	t.Setenv(ENV_SATSLINK_TOKEN_CANISTER_ID, satsToken.String())

	vals, err := readEnv(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, satsToken.String(), vals[ENV_SATSLINK_TOKEN_CANISTER_ID])
}

func TestParseEnv(t *testing.T) {

	nc, err := util.GetNetworkConstants(util.NETWORK_IC, "")
	require.NoError(t, err)

	env, err := parseEnv(map[string]string{
		ENV_SATSLINKER_CANISTER_ID:     satslinker.String(),
		ENV_SATSLINK_TOKEN_CANISTER_ID: satsToken.String(),
		ENV_II_ORIGIN:                  "https://id.example",
	}, nc)
	require.NoError(t, err)

	assert.True(t, env.SatslinkerCanister.Equal(satslinker))
	assert.True(t, env.SatslinkToken.Equal(satsToken))
	assert.Equal(t, nc.IcpLedgerID, env.IcpToken.String())
	assert.Equal(t, nc.IcpSwapInfoID, env.IcpSwapInfo.String())
	assert.Equal(t, "https://id.example", nc.IdentityProvider)
	assert.Empty(t, env.CredentialRelayURL)
}

func TestParseEnvRequiresCanisters(t *testing.T) {

	nc, err := util.GetNetworkConstants(util.NETWORK_LOCAL, "be2us-64aaa-aaaaa-qaabq-cai")
	require.NoError(t, err)

	_, err = parseEnv(map[string]string{ENV_SATSLINK_TOKEN_CANISTER_ID: satsToken.String()}, nc)
	assert.ErrorContains(t, err, ENV_SATSLINKER_CANISTER_ID)

	_, err = parseEnv(map[string]string{
		ENV_SATSLINKER_CANISTER_ID:     "not-a-principal",
		ENV_SATSLINK_TOKEN_CANISTER_ID: satsToken.String(),
	}, nc)
	assert.ErrorContains(t, err, "Invalid "+ENV_SATSLINKER_CANISTER_ID)
}

// gateway answers by method name only
type gateway struct {
	replies map[string]string
	delays  map[string]time.Duration
	lock    sync.Mutex
}

func newGateway() *gateway {
	return &gateway{replies: make(map[string]string), delays: make(map[string]time.Duration)}
}

func (g *gateway) set(method, reply string) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.replies[method] = reply
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	g.lock.Lock()
	reply, ok := g.replies[method]
	delay := g.delays[method]
	g.lock.Unlock()

	time.Sleep(delay)

	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	_, _ = w.Write([]byte(reply))
}

type memStore struct {
	data []byte
}

func (m *memStore) SaveSession(b []byte) error { m.data = b; return nil }
func (m *memStore) LoadSession() ([]byte, error) { return m.data, nil }
func (m *memStore) DeleteSession() error        { m.data = nil; return nil }

func newRefresher(t *testing.T, gw *gateway) (*Refresher, *prometheus.Registry) {
	t.Helper()

	return newRefresherWithPrice(t, gw, nil)
}

func newRefresherWithPrice(t *testing.T, gw *gateway, price stores.PriceAPI) (*Refresher, *prometheus.Registry) {
	t.Helper()

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	indicators := metrics.NewPromIndicators(util.NETWORK_LOCAL, reg)

	lc, err := linkclient.New(linkclient.Config{
		Endpoints: []string{srv.URL},
		RateLimit: 1000,
		RateBurst: 100,
		Recorder:  indicators,
	})
	require.NoError(t, err)

	auth := session.New(&memStore{})

	st := stores.New(stores.Config{
		Auth: auth,
		Ledgers: func(token util.Principal) stores.LedgerAPI {
			return lc.Ledger(token)
		},
		Satslinker: lc.Satslinker(satslinker),
		Price:      price,
		Defaults:   stores.DefaultTokens{ICP: util.MustParsePrincipal(util.ICP_LEDGER_DEFAULT), Satslink: satsToken},

		SatslinkerCanister: satslinker,
	})

	return &Refresher{
		stores:     st,
		auth:       auth,
		linkClient: lc,
		status:     linkclient.NewLinkStatus(),
		indicators: indicators,
		interval:   DEFAULT_REFRESH,
	}, reg
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}

	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestRefreshOnce(t *testing.T) {

	gw := newGateway()
	gw.set("get_totals", `{"reply":{"total_token_minted":"250000000","current_pos_round":"12"}}`)
	gw.set("get_payment_stats", `{"reply":{"Ok":{"total_usd_value_all_users":"10.5","all_payments":[]}}}`)
	gw.set("get_payment_user_count", `{"reply":"4"}`)

	r, reg := newRefresher(t, gw)

	require.NoError(t, r.RefreshOnce(context.Background()))

	info := r.status.Snapshot()
	assert.Equal(t, linkclient.STATE_NO_SESSION, info.State)
	assert.Empty(t, info.ErrorMsg)

	assert.Equal(t, 2.5, gaugeValue(t, reg, "satslink_total_token_minted"))
	assert.Equal(t, 12.0, gaugeValue(t, reg, "satslink_current_pos_round"))
	assert.Equal(t, 4.0, gaugeValue(t, reg, "satslink_payment_users"))
	assert.Greater(t, gaugeValue(t, reg, "satslink_last_refresh_success_timestamp_seconds"), 0.0)

	count, ok := r.stores.Payments.UserCount()
	require.True(t, ok)
	assert.Equal(t, uint64(4), count)
}

func TestRefreshOnceUnreachable(t *testing.T) {

	gw := newGateway()
	r, reg := newRefresher(t, gw)

	err := r.RefreshOnce(context.Background())
	require.Error(t, err)

	info := r.status.Snapshot()
	assert.Equal(t, linkclient.STATE_UNREACHABLE, info.State)
	assert.NotEmpty(t, info.ErrorMsg)
	assert.Zero(t, gaugeValue(t, reg, "satslink_last_refresh_success_timestamp_seconds"))
}

func TestRefreshLoopStops(t *testing.T) {

	gw := newGateway()
	r, _ := newRefresher(t, gw)

	var wg sync.WaitGroup
	shutdown := make(chan interface{})

	wg.Add(1)
	go r.Run(context.Background(), shutdown, &wg)

	close(shutdown)
	wg.Wait()
}

func TestRefreshOnceKeepsFetchesIndependent(t *testing.T) {

	gw := newGateway()
	gw.set("get_totals", `{"reply":{"total_token_minted":"100000000","current_pos_round":"3"}}`)
	gw.set("get_payment_stats", `{"reply":{"Ok":{"total_usd_value_all_users":"1","all_payments":[]}}}`)
	gw.delays["get_totals"] = 200 * time.Millisecond
	// get_payment_user_count has no reply and fails at once

	r, _ := newRefresher(t, gw)

	require.Error(t, r.RefreshOnce(context.Background()))

	totals, ok := r.stores.Satslinker.Totals()
	require.True(t, ok)
	assert.Equal(t, "1", totals.TotalTokenMinted.String())

	_, ok = r.stores.Payments.Stats()
	assert.True(t, ok)

	_, ok = r.stores.Payments.UserCount()
	assert.False(t, ok)
}

type failingPrice struct{}

func (failingPrice) GetAllTokens(ctx context.Context, agent *linkclient.Agent) ([]linkclient.TokenPrice, error) {
	return nil, errors.New("price service down")
}

func TestInitialFetchLoadsSessionDataDespiteFailures(t *testing.T) {

	alice := mustPrincipal(1, 2, 3)

	gw := newGateway()
	gw.set("get_totals", `{"reply":{"current_pos_round":"1"}}`)
	gw.set("icrc1_metadata", `{"reply":[["icrc1:name",{"Text":"Token"}],["icrc1:symbol",{"Text":"TKN"}],["icrc1:decimals",{"Nat":"8"}],["icrc1:fee",{"Nat":"10000"}]]}`)
	gw.set("icrc1_balance_of", `{"reply":"70000000"}`)
	gw.set("subaccount_of", `{"reply":"`+util.SubaccountFromPrincipal(alice).Hex()+`"}`)
	// get_payment_stats has no reply and fails

	r, _ := newRefresherWithPrice(t, gw, failingPrice{})
	require.NoError(t, r.auth.Authorize(alice, session.PROVIDER_II, "delegation", ""))

	server := &SatslinkServer{stores: r.stores, auth: r.auth, linkStatus: r.status}
	server.initialFetch(context.Background())

	_, ok := r.stores.Satslinker.MyDepositAccount()
	assert.True(t, ok)
	assert.Len(t, r.stores.Tokens.Balances(), 3)
	assert.True(t, r.stores.Satslinker.CanStake())
	assert.False(t, r.stores.Tokens.HasUsdRates())

	info := r.status.Snapshot()
	assert.Equal(t, linkclient.STATE_UNREACHABLE, info.State)
	assert.NotEmpty(t, info.ErrorMsg)
}
