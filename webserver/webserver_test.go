package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satslink/linkclient"
	"satslink/metrics"
	"satslink/notifications"
	"satslink/session"
	"satslink/storage"
	"satslink/stores"
	"satslink/util"
)

var (
	icpLedger  = util.MustParsePrincipal(util.ICP_LEDGER_DEFAULT)
	satslinker = mustPrincipal(0, 0, 0, 0, 2, 48, 0, 9, 1, 1)
	satsToken  = mustPrincipal(0, 0, 0, 0, 2, 48, 0, 7, 1, 1)
	priceInfo  = mustPrincipal(0, 0, 0, 0, 2, 48, 0, 5, 1, 1)
	alice      = mustPrincipal(1, 2, 3)
)

func mustPrincipal(b ...byte) util.Principal {
	p, err := util.PrincipalFromBytes(b)
	if err != nil {
		panic(err)
	}
	return p
}

// gateway answers "<canister>/<method>" with canned replies
type gateway struct {
	replies map[string]string
	lock    sync.Mutex
}

func (g *gateway) set(canister util.Principal, method, reply string) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.replies[canister.String()+"/"+method] = reply
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	// /api/v2/canister/{canister}/{kind}/{method}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v2/canister/"), "/")
	if len(parts) != 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	g.lock.Lock()
	reply, ok := g.replies[parts[0]+"/"+parts[2]]
	g.lock.Unlock()

	if !ok {
		_, _ = w.Write([]byte(`{"reject_code":3,"reject_message":"method not found"}`))
		return
	}

	_, _ = w.Write([]byte(reply))
}

type testEnv struct {
	gw      *gateway
	ws      *WebServer
	srv     *httptest.Server
	auth    *session.Session
	stores  *stores.Stores
	db      *storage.Storage
	feed    *Feed
	metrics *metrics.PromIndicators
}

func newTestEnv(t *testing.T) *testEnv {

	gw := &gateway{replies: make(map[string]string)}
	gwSrv := httptest.NewServer(gw)
	t.Cleanup(gwSrv.Close)

	db, err := storage.InitStorage(t.TempDir(), util.NETWORK_LOCAL)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.AddGatewayEndpoint(gwSrv.URL)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	indicators := metrics.NewPromIndicators(util.NETWORK_LOCAL, reg)

	lc, err := linkclient.New(linkclient.Config{
		Endpoints: []string{gwSrv.URL},
		RateLimit: 1000,
		RateBurst: 100,
		Recorder:  indicators,
	})
	require.NoError(t, err)

	auth := session.New(db)

	notifs, err := notifications.NewHandler(db)
	require.NoError(t, err)

	feed := NewFeed()

	st := stores.New(stores.Config{
		Auth: auth,
		Ledgers: func(token util.Principal) stores.LedgerAPI {
			return lc.Ledger(token)
		},
		Satslinker: lc.Satslinker(satslinker),
		Price:      lc.Price(priceInfo),
		Hooks:      &stores.Hooks{Cache: db, Publisher: feed, Notifier: notifs},
		Defaults:   stores.DefaultTokens{ICP: icpLedger, Satslink: satsToken},

		SatslinkerCanister: satslinker,
	})

	ws := New(&WebServerArgs{
		Stores:        st,
		Auth:          auth,
		LinkClient:    lc,
		LinkStatus:    linkclient.NewLinkStatus(),
		Storage:       db,
		Notifications: notifs,
		Feed:          feed,
		Gatherer:      reg,
	})

	srv := httptest.NewServer(ws.Router())
	t.Cleanup(srv.Close)

	return &testEnv{gw: gw, ws: ws, srv: srv, auth: auth, stores: st, db: db, feed: feed, metrics: indicators}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := make(map[string]interface{})
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return resp.StatusCode, out
}

func (e *testEnv) login(t *testing.T) {
	status, out := e.do(t, "POST", "/api/session", map[string]string{
		"identity": alice.String(),
		"provider": "II",
		"token":    "delegation",
	})
	require.Equal(t, http.StatusOK, status, out)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	status, out := e.do(t, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["ok"])
}

func TestTotals(t *testing.T) {
	e := newTestEnv(t)

	status, out := e.do(t, "GET", "/api/totals", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNREACHABLE", out["code"])

	e.gw.set(satslinker, "get_totals", `{"reply":{"total_token_minted":"150000000","current_pos_round":7,"current_share_fee":"25000000000"}}`)
	require.NoError(t, e.stores.Satslinker.FetchTotals(context.Background()))

	status, out = e.do(t, "GET", "/api/totals", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "150000000", out["total_token_minted"])
	assert.Equal(t, "7", out["current_pos_round"])
	assert.Equal(t, "25000000000", out["current_share_fee"])
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)

	status, out := e.do(t, "POST", "/api/session", map[string]string{"identity": "nope", "provider": "II"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "AUTH", out["code"])

	status, out = e.do(t, "POST", "/api/session", map[string]string{"identity": alice.String(), "provider": "XX"})
	assert.Equal(t, http.StatusUnauthorized, status)

	e.login(t)
	assert.True(t, e.auth.IsAuthorized())

	status, out = e.do(t, "GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["authorized"])
	assert.Equal(t, alice.String(), out["identity"])

	status, _ = e.do(t, "DELETE", "/api/session", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, e.auth.IsAuthorized())
}

func TestActionsNeedSession(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/stake", "/api/claim", "/api/verify"} {
		status, out := e.do(t, "POST", path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, "AUTH", out["code"], path)
	}

	status, out := e.do(t, "GET", "/api/predicates", nil)
	require.Equal(t, http.StatusOK, status)
	for k, v := range out {
		assert.Equal(t, false, v, k)
	}
}

func TestPool(t *testing.T) {
	e := newTestEnv(t)

	bob := mustPrincipal(4, 5, 6)
	e.gw.set(satslinker, "get_satslinkers",
		`{"reply":{"entries":[["`+alice.String()+`","1000000000000","0",false],["`+bob.String()+`","3000000000000","5",true]]}}`)

	status, out := e.do(t, "GET", "/api/pool", nil)
	require.Equal(t, http.StatusOK, status, out)

	members := out["members"].([]interface{})
	require.Len(t, members, 2)
	first := members[0].(map[string]interface{})
	assert.Equal(t, bob.String(), first["id"])
	assert.Equal(t, true, first["is_verified_via_decide_id"])
}

func TestPayPartialAdvance(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	sub := util.SubaccountFromPrincipal(alice)
	e.gw.set(satslinker, "subaccount_of", `{"reply":"`+sub.Hex()+`"}`)
	e.gw.set(icpLedger, "icrc2_approve", `{"reply":{"Ok":"77"}}`)
	e.gw.set(satslinker, "pay", `{"reply":{"Err":"InsufficientAllowance"}}`)

	status, out := e.do(t, "POST", "/api/pay", map[string]string{
		"amount":     "0.6",
		"ethaddress": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["error"], "remains in place")
	assert.False(t, e.auth.IsBusy())

	status, out = e.do(t, "POST", "/api/pay", map[string]string{"amount": "0.1", "ethaddress": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["error"], "minimum payment")
}

func TestEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, out := e.do(t, "POST", "/api/endpoints", map[string]string{"endpoint": "http://127.0.0.1:1/"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, float64(2), out["id"])
	assert.Equal(t, []string{e.ws.linkClient.Current(), "http://127.0.0.1:1"}, e.ws.linkClient.Endpoints())

	status, out = e.do(t, "GET", "/api/endpoints", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["endpoints"], 2)

	status, _ = e.do(t, "DELETE", "/api/endpoints", map[string]int{"id": 2})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, e.ws.linkClient.Endpoints(), 1)

	status, out = e.do(t, "DELETE", "/api/endpoints", map[string]int{"id": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["error"], "last endpoint")

	status, _ = e.do(t, "DELETE", "/api/endpoints", map[string]int{"id": 9})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t)
	e.metrics.SetCurrentRound(3)

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "satslink_current_pos_round")
}

func TestFeed(t *testing.T) {
	e := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.feed.Clients() == 1 }, time.Second, 10*time.Millisecond)

	e.gw.set(satslinker, "get_totals", `{"reply":{"current_pos_round":"9"}}`)
	require.NoError(t, e.stores.Satslinker.FetchTotals(context.Background()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev struct {
		Event   string                 `json:"event"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stores.EVENT_TOTALS, ev.Event)
	assert.Equal(t, "9", ev.Payload["current_pos_round"])

	e.feed.Close()
	assert.Equal(t, 0, e.feed.Clients())
}
