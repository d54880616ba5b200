package webserver

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/fixed"
	"satslink/linkclient"
	"satslink/session"
	"satslink/stores"
	"satslink/util"
)

func (ws *WebServer) getHealth(w http.ResponseWriter, r *http.Request) {
	apiReturnOk(w)
}

//
// Get current status
func (ws *WebServer) getStatus(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetStatus")

	s := struct {
		linkclient.StatusInfo
		Session session.Info `json:"session"`
		Ts      int64        `json:"ts"`
	}{
		ws.linkStatus.Snapshot(),
		ws.auth.Info(),
		time.Now().Unix(),
	}

	apiReturn(w, s)
}

func (ws *WebServer) getTotals(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetTotals")

	totals, ok := ws.stores.Satslinker.Totals()
	if !ok {
		apiError(util.Err(util.ErrUnreachable, "Totals are not fetched yet"), w)
		return
	}

	apiReturn(w, totals)
}

// getPool serves the cached pool listing; ?refresh=1 or an empty cache
// fetches it first.
func (ws *WebServer) getPool(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetPool")

	members := ws.stores.Satslinker.PoolMembers()

	if len(members) == 0 || r.URL.Query().Get("refresh") == "1" {
		if err := ws.stores.Satslinker.FetchPoolMembers(r.Context()); err != nil {
			apiError(errors.Wrap(err, "Cannot fetch pool members"), w)
			return
		}
		members = ws.stores.Satslinker.PoolMembers()
	}

	apiReturn(w, map[string]interface{}{
		"members": members,
	})
}

func (ws *WebServer) getPredicates(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetPredicates")

	icp := ws.stores.Tokens.Defaults.ICP

	apiReturn(w, map[string]bool{
		"canStake":             ws.stores.Satslinker.CanStake(),
		"canWithdraw":          ws.stores.Satslinker.CanWithdraw(),
		"canClaimReward":       ws.stores.Satslinker.CanClaimReward(),
		"canMigrateMsqAccount": ws.stores.Satslinker.CanMigrateMsqAccount(),
		"canVerifyDecideID":    ws.stores.Satslinker.CanVerifyDecideID(),
		"canPay":               ws.stores.Payments.CanPay(),
		"canTransfer":          ws.stores.Tokens.CanTransfer(icp),
		"canApprove":           ws.stores.Tokens.CanApprove(icp),
		"canClaimLost":         ws.stores.Tokens.CanClaimLost(),
		"busy":                 ws.auth.IsBusy(),
	})
}

// getBalances lists every cached balance, or fetches one when token and
// owner are given.
func (ws *WebServer) getBalances(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetBalances")

	q := r.URL.Query()

	if q.Get("token") == "" && q.Get("owner") == "" {
		apiReturn(w, map[string]interface{}{"balances": ws.stores.Tokens.Balances()})
		return
	}

	token, err := util.ParsePrincipal(q.Get("token"))
	if err != nil {
		apiError(errors.Wrap(err, "Invalid token"), w)
		return
	}

	owner, err := util.ParsePrincipal(q.Get("owner"))
	if err != nil {
		apiError(errors.Wrap(err, "Invalid owner"), w)
		return
	}

	var sub *util.Subaccount
	if s := q.Get("sub"); s != "" {
		parsed, err := util.ParseSubaccount(s)
		if err != nil {
			apiError(err, w)
			return
		}
		sub = &parsed
	}

	if err := ws.stores.Tokens.FetchBalanceOf(r.Context(), token, owner, sub); err != nil {
		apiError(errors.Wrap(err, "Cannot fetch balance"), w)
		return
	}

	amount, _ := ws.stores.Tokens.BalanceOf(token, owner, sub)

	apiReturn(w, stores.Balance{Token: token, Owner: owner, Subaccount: util.OrDefault(sub), Amount: amount})
}

func (ws *WebServer) getMetadata(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetMetadata")

	apiReturn(w, map[string]interface{}{
		"metadata": ws.stores.Tokens.AllMetadata(),
	})
}

func (ws *WebServer) getRates(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetRates")

	rates := make(map[string]string)
	for k, v := range ws.stores.Tokens.UsdRates() {
		rates[k] = v.String()
	}

	apiReturn(w, map[string]interface{}{
		"rates": rates,
	})
}

// getPayments serves payment stats. ?eth= also fetches the records paid for
// that external address.
func (ws *WebServer) getPayments(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetPayments")

	resp := make(map[string]interface{})

	if stats, ok := ws.stores.Payments.Stats(); ok {
		resp["stats"] = stats
	}

	if count, ok := ws.stores.Payments.UserCount(); ok {
		resp["usercount"] = count
	}

	if addr := r.URL.Query().Get("eth"); addr != "" {
		if err := ws.stores.Payments.FetchPaymentsByEthAddress(r.Context(), addr); err != nil {
			apiError(errors.Wrap(err, "Cannot fetch payments"), w)
			return
		}

		records, _ := ws.stores.Payments.PaymentsByEthAddress(addr)
		resp["byaddress"] = records
	}

	apiReturn(w, resp)
}

// parseAmount reads human text in the token's precision
func (ws *WebServer) parseAmount(token util.Principal, text string) (fixed.EDs, error) {

	decimals := fixed.E8Decimals
	if meta, ok := ws.stores.Tokens.Metadata(token); ok {
		decimals = meta.Decimals
	}

	amount, err := fixed.ParseDecimal(text, decimals, fixed.RoundDown)
	if err != nil {
		return fixed.EDs{}, util.WrapErr(util.ErrUnknown, err, "Invalid amount")
	}

	if amount.IsZero() {
		return fixed.EDs{}, util.Err(util.ErrUnknown, "Amount must be positive")
	}

	return amount, nil
}
