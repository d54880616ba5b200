package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/util"
)

type actionRequest struct {
	Token      string `json:"token"`
	To         string `json:"to"`
	Spender    string `json:"spender"`
	Amount     string `json:"amount"`
	EthAddress string `json:"ethaddress"`
}

func decodeAction(r *http.Request) (actionRequest, error) {

	var req actionRequest

	if r.ContentLength == 0 {
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, util.WrapErr(util.ErrUnknown, err, "Cannot decode body")
	}

	return req, nil
}

func principalField(name, text string) (util.Principal, error) {
	p, err := util.ParsePrincipal(text)
	if err != nil {
		return util.Principal{}, util.WrapErr(util.ErrUnknown, err, "Invalid "+name)
	}

	return p, nil
}

// tokenOrICP defaults an empty token field to the ICP ledger
func (ws *WebServer) tokenOrICP(text string) (util.Principal, error) {
	if text == "" {
		return ws.stores.Tokens.Defaults.ICP, nil
	}

	return principalField("token", text)
}

// recipientOrSelf defaults an empty recipient to the caller
func (ws *WebServer) recipientOrSelf(text string) (util.Principal, error) {
	if text != "" {
		return principalField("recipient", text)
	}

	pid, ok := ws.auth.Identity()
	if !ok {
		return util.Principal{}, util.Err(util.ErrAuth, "Not authorized")
	}

	return pid, nil
}

func (ws *WebServer) stake(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Stake")

	staked, err := ws.stores.Satslinker.Stake(r.Context())
	if err != nil {
		apiError(errors.Wrap(err, "Cannot stake"), w)
		return
	}

	apiReturn(w, map[string]string{"staked": staked.String()})
}

func (ws *WebServer) withdraw(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Withdraw")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	to, err := ws.recipientOrSelf(req.To)
	if err != nil {
		apiError(err, w)
		return
	}

	amount, err := ws.parseAmount(ws.stores.Tokens.Defaults.ICP, req.Amount)
	if err != nil {
		apiError(err, w)
		return
	}

	if err := ws.stores.Satslinker.Withdraw(r.Context(), amount, to); err != nil {
		apiError(errors.Wrap(err, "Cannot withdraw"), w)
		return
	}

	apiReturnOk(w)
}

func (ws *WebServer) claimReward(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - ClaimReward")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	to, err := ws.recipientOrSelf(req.To)
	if err != nil {
		apiError(err, w)
		return
	}

	claimed, err := ws.stores.Satslinker.ClaimReward(r.Context(), to)
	if err != nil {
		apiError(errors.Wrap(err, "Cannot claim reward"), w)
		return
	}

	apiReturn(w, map[string]string{"claimed": claimed.String()})
}

func (ws *WebServer) pay(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Pay")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	token, err := ws.tokenOrICP(req.Token)
	if err != nil {
		apiError(err, w)
		return
	}

	amount, err := ws.parseAmount(token, req.Amount)
	if err != nil {
		apiError(err, w)
		return
	}

	idx, err := ws.stores.Payments.Pay(r.Context(), amount, req.EthAddress, token)
	if err != nil {
		apiError(err, w)
		return
	}

	apiReturn(w, map[string]uint64{"index": uint64(idx)})
}

func (ws *WebServer) approve(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Approve")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	token, err := ws.tokenOrICP(req.Token)
	if err != nil {
		apiError(err, w)
		return
	}

	spender := ws.stores.Satslinker.Canister
	if req.Spender != "" {
		if spender, err = principalField("spender", req.Spender); err != nil {
			apiError(err, w)
			return
		}
	}

	amount, err := ws.parseAmount(token, req.Amount)
	if err != nil {
		apiError(err, w)
		return
	}

	block, err := ws.stores.Tokens.Approve(r.Context(), token, spender, amount)
	if err != nil {
		apiError(err, w)
		return
	}

	apiReturn(w, map[string]uint64{"block": uint64(block)})
}

func (ws *WebServer) transfer(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Transfer")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	token, err := ws.tokenOrICP(req.Token)
	if err != nil {
		apiError(err, w)
		return
	}

	to, err := principalField("recipient", req.To)
	if err != nil {
		apiError(err, w)
		return
	}

	amount, err := ws.parseAmount(token, req.Amount)
	if err != nil {
		apiError(err, w)
		return
	}

	block, err := ws.stores.Tokens.Transfer(r.Context(), token, amount, to)
	if err != nil {
		apiError(err, w)
		return
	}

	apiReturn(w, map[string]uint64{"block": uint64(block)})
}

func (ws *WebServer) claimLost(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - ClaimLost")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	to, err := principalField("recipient", req.To)
	if err != nil {
		apiError(err, w)
		return
	}

	if err := ws.stores.Tokens.ClaimLost(r.Context(), to); err != nil {
		apiError(err, w)
		return
	}

	apiReturnOk(w)
}

func (ws *WebServer) migrate(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Migrate")

	req, err := decodeAction(r)
	if err != nil {
		apiError(err, w)
		return
	}

	to, err := principalField("recipient", req.To)
	if err != nil {
		apiError(err, w)
		return
	}

	if err := ws.stores.Satslinker.MigrateMsqAccount(r.Context(), to); err != nil {
		apiError(errors.Wrap(err, "Cannot migrate account"), w)
		return
	}

	ws.linkStatus.SetSession("", "", false)

	apiReturnOk(w)
}

func (ws *WebServer) verifyDecideID(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - VerifyDecideID")

	if err := ws.stores.Satslinker.VerifyDecideID(r.Context()); err != nil {
		apiError(errors.Wrap(err, "Cannot verify"), w)
		return
	}

	apiReturnOk(w)
}
