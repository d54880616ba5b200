package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/session"
	"satslink/util"
)

type authorizeRequest struct {
	Identity   string           `json:"identity"`
	Provider   session.Provider `json:"provider"`
	Token      string           `json:"token"`
	EthAddress string           `json:"ethaddress"`
}

func (ws *WebServer) getSession(w http.ResponseWriter, r *http.Request) {
	apiReturn(w, ws.auth.Info())
}

// authorize records a session completed by the UI's identity provider
func (ws *WebServer) authorize(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Authorize")

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(errors.Wrap(err, "Cannot decode body for authorize"), w)
		return
	}

	identity, err := util.ParsePrincipal(req.Identity)
	if err != nil {
		apiError(util.WrapErr(util.ErrAuth, err, "Invalid identity"), w)
		return
	}

	if err := ws.auth.Authorize(identity, req.Provider, req.Token, req.EthAddress); err != nil {
		log.WithError(err).Error("API Authorize")
		apiError(err, w)
		return
	}

	ws.linkStatus.SetSession(identity.String(), string(req.Provider), true)

	apiReturn(w, ws.auth.Info())
}

func (ws *WebServer) deauthorize(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - Deauthorize")

	if err := ws.auth.Deauthorize(); err != nil {
		apiError(errors.Wrap(err, "Cannot end session"), w)
		return
	}

	ws.linkStatus.SetSession("", "", false)

	apiReturnOk(w)
}
