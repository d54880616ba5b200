package webserver

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/notifications"
)

func (ws *WebServer) saveTelegram(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - SaveTelegram")

	// Read the POST body as a string
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).Error("API SaveTelegram")
		apiError(errors.Wrap(err, "Failed to parse body"), w)

		return
	}

	// Send string to configure for JSON unmarshaling; make sure to save config to db
	if err := ws.notifications.Configure(notifications.TELEGRAM, body, true); err != nil {
		log.WithError(err).Error("API SaveTelegram")
		apiError(errors.Wrap(err, "Failed to configure telegram"), w)

		return
	}

	if err := ws.notifications.TestSend(notifications.TELEGRAM, "Test message from Satslink"); err != nil {
		log.WithError(err).Error("API SaveTelegram")
		apiError(errors.Wrap(err, "Failed to execute telegram test"), w)

		return
	}

	apiReturnOk(w)
}

func (ws *WebServer) getSettings(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetSettings")

	endpoints, err := ws.storage.GetGatewayEndpoints()
	if err != nil {
		apiError(errors.Wrap(err, "Cannot get endpoints"), w)

		return
	}
	log.WithField("Endpoints", endpoints).Debug("API Settings Endpoints")

	// Get Notification settings
	notifs, err := ws.notifications.GetConfig() // Returns json.RawMessage
	if err != nil {
		apiError(errors.Wrap(err, "Cannot get notification settings"), w)

		return
	}

	apiReturn(w, map[string]interface{}{
		"endpoints":     endpoints,
		"notifications": notifs,
	})
}

//
// Adding, Listing, Deleting endpoints
func (ws *WebServer) addEndpoint(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - AddEndpoint")

	k := make(map[string]string)

	if err := json.NewDecoder(r.Body).Decode(&k); err != nil {
		apiError(errors.Wrap(err, "Cannot decode body for endpoint add"), w)

		return
	}

	id, err := ws.storage.AddGatewayEndpoint(k["endpoint"])
	if err != nil {
		log.WithError(err).WithField("Endpoint", k).Error("API AddEndpoint")
		apiError(errors.Wrap(err, "Cannot add endpoint to DB"), w)

		return
	}

	if err := ws.reloadEndpoints(); err != nil {
		apiError(err, w)

		return
	}

	log.WithField("Endpoint", k["endpoint"]).Debug("API Added Endpoint")

	apiReturn(w, map[string]int{"id": id})
}

func (ws *WebServer) listEndpoints(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - ListEndpoints")

	endpoints, err := ws.storage.GetGatewayEndpoints()
	if err != nil {
		apiError(errors.Wrap(err, "Cannot get endpoints"), w)

		return
	}

	apiReturn(w, map[string]interface{}{
		"endpoints": endpoints,
		"current":   ws.linkClient.Current(),
	})
}

func (ws *WebServer) deleteEndpoint(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - DeleteEndpoint")

	k := make(map[string]int)

	if err := json.NewDecoder(r.Body).Decode(&k); err != nil {
		apiError(errors.Wrap(err, "Cannot decode body for endpoint delete"), w)

		return
	}

	endpoints, err := ws.storage.GetGatewayEndpoints()
	if err != nil {
		apiError(errors.Wrap(err, "Cannot get endpoints"), w)

		return
	}

	if _, ok := endpoints[k["id"]]; !ok {
		apiError(errors.Errorf("No endpoint with id %d", k["id"]), w)

		return
	}

	// Never leave the client without a gateway
	if len(endpoints) == 1 {
		apiError(errors.New("Cannot delete the last endpoint"), w)

		return
	}

	if err := ws.storage.DeleteGatewayEndpoint(k["id"]); err != nil {
		log.WithError(err).WithField("Endpoint", k).Error("API DeleteEndpoint")
		apiError(errors.Wrap(err, "Cannot delete endpoint from DB"), w)

		return
	}

	if err := ws.reloadEndpoints(); err != nil {
		apiError(err, w)

		return
	}

	log.WithField("Endpoint", k["id"]).Debug("API Deleted Endpoint")

	apiReturnOk(w)
}

// reloadEndpoints hands the stored list to the gateway client
func (ws *WebServer) reloadEndpoints() error {

	list, err := ws.storage.GatewayEndpointList()
	if err != nil {
		return errors.Wrap(err, "Cannot get endpoints")
	}

	if err := ws.linkClient.SetEndpoints(list); err != nil {
		return errors.Wrap(err, "Cannot update gateway client")
	}

	ws.linkStatus.SetEndpoint(ws.linkClient.Current(), ws.linkClient.IsPrimary)

	return nil
}
