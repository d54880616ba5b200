package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"satslink/linkclient"
	"satslink/notifications"
	"satslink/session"
	"satslink/storage"
	"satslink/stores"
	"satslink/util"
)

type WebServer struct {
	stores        *stores.Stores
	auth          *session.Session
	linkClient    *linkclient.LinkClient
	linkStatus    *linkclient.LinkStatus
	storage       *storage.Storage
	notifications *notifications.NotificationHandler
	feed          *Feed
	gatherer      prometheus.Gatherer

	httpSvr *http.Server
}

type WebServerArgs struct {
	Stores        *stores.Stores
	Auth          *session.Session
	LinkClient    *linkclient.LinkClient
	LinkStatus    *linkclient.LinkStatus
	Storage       *storage.Storage
	Notifications *notifications.NotificationHandler
	Feed          *Feed
	Gatherer      prometheus.Gatherer

	BindAddr string
	BindPort int

	ShutdownChan <-chan interface{}
	WG           *sync.WaitGroup
}

// New builds the server without listening; Start does both
func New(args *WebServerArgs) *WebServer {

	feed := args.Feed
	if feed == nil {
		feed = NewFeed()
	}

	ws := &WebServer{
		stores:        args.Stores,
		auth:          args.Auth,
		linkClient:    args.LinkClient,
		linkStatus:    args.LinkStatus,
		storage:       args.Storage,
		notifications: args.Notifications,
		feed:          feed,
		gatherer:      args.Gatherer,
	}

	httpAddr := fmt.Sprintf("%s:%d", args.BindAddr, args.BindPort)
	ws.httpSvr = &http.Server{
		Handler:      ws.Router(),
		Addr:         httpAddr,
		WriteTimeout: 2 * time.Minute,
		ReadTimeout:  15 * time.Second,
	}

	return ws
}

func Start(args *WebServerArgs) *WebServer {

	ws := New(args)

	log.WithField("Addr", ws.httpSvr.Addr).Info("Satslink WebUI Listening")

	// Launch webserver in background
	args.WG.Add(1)
	go func() {
		if err := ws.httpSvr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Httpserver: ListenAndServe()")
		}
		log.Info("Httpserver: Shutdown")
	}()

	// Wait for shutdown signal on channel
	go func() {
		defer args.WG.Done()

		<-args.ShutdownChan

		ws.feed.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := ws.httpSvr.Shutdown(ctx); err != nil {
			log.WithError(err).Errorf("Httpserver: Shutdown()")
		}
	}()

	return ws
}

// Router wires every route behind CORS
func (ws *WebServer) Router() http.Handler {

	router := mux.NewRouter()

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/health", ws.getHealth).Methods("GET")
	apiRouter.HandleFunc("/status", ws.getStatus).Methods("GET")
	apiRouter.HandleFunc("/totals", ws.getTotals).Methods("GET")
	apiRouter.HandleFunc("/pool", ws.getPool).Methods("GET")
	apiRouter.HandleFunc("/predicates", ws.getPredicates).Methods("GET")
	apiRouter.HandleFunc("/balances", ws.getBalances).Methods("GET")
	apiRouter.HandleFunc("/metadata", ws.getMetadata).Methods("GET")
	apiRouter.HandleFunc("/rates", ws.getRates).Methods("GET")
	apiRouter.HandleFunc("/payments", ws.getPayments).Methods("GET")

	apiRouter.HandleFunc("/session", ws.getSession).Methods("GET")
	apiRouter.HandleFunc("/session", ws.authorize).Methods("POST")
	apiRouter.HandleFunc("/session", ws.deauthorize).Methods("DELETE")

	apiRouter.HandleFunc("/stake", ws.stake).Methods("POST")
	apiRouter.HandleFunc("/withdraw", ws.withdraw).Methods("POST")
	apiRouter.HandleFunc("/claim", ws.claimReward).Methods("POST")
	apiRouter.HandleFunc("/pay", ws.pay).Methods("POST")
	apiRouter.HandleFunc("/approve", ws.approve).Methods("POST")
	apiRouter.HandleFunc("/transfer", ws.transfer).Methods("POST")
	apiRouter.HandleFunc("/claimlost", ws.claimLost).Methods("POST")
	apiRouter.HandleFunc("/migrate", ws.migrate).Methods("POST")
	apiRouter.HandleFunc("/verify", ws.verifyDecideID).Methods("POST")

	apiRouter.HandleFunc("/endpoints", ws.listEndpoints).Methods("GET")
	apiRouter.HandleFunc("/endpoints", ws.addEndpoint).Methods("POST")
	apiRouter.HandleFunc("/endpoints", ws.deleteEndpoint).Methods("DELETE")

	apiRouter.HandleFunc("/settings", ws.getSettings).Methods("GET")
	apiRouter.HandleFunc("/settings/telegram", ws.saveTelegram).Methods("POST")

	router.Handle("/ws", ws.feed)

	if ws.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))
	}

	// For CORS
	corsOpts := []handlers.CORSOption{
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	}

	return handlers.CORS(corsOpts...)(router)
}

type apiErrorBody struct {
	Error string         `json:"error"`
	Code  util.ErrorCode `json:"code"`
}

// apiError reports err to the UI. Auth failures are 401, everything else 400.
func apiError(err error, w http.ResponseWriter) {

	code := util.CodeOf(err)

	status := http.StatusBadRequest
	if code == util.ErrAuth {
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiErrorBody{Error: err.Error(), Code: code}); err != nil {
		log.WithError(err).Error("UI Return Encode Failure")
	}
}

func apiReturnOk(w http.ResponseWriter) {
	apiReturn(w, map[string]bool{"ok": true})
}

func apiReturn(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("UI Return Encode Failure")
	}
}
