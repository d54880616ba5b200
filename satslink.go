package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"satslink/credentials"
	"satslink/linkclient"
	"satslink/metrics"
	"satslink/notifications"
	"satslink/session"
	"satslink/storage"
	"satslink/stores"
	"satslink/util"
	"satslink/webserver"
)

var (
	version    = "0.1.0"
	commitHash = "dev"
)

type SatslinkServer struct {
	*linkclient.LinkClient
	*notifications.NotificationHandler
	*storage.Storage
	Flags

	webServer  *webserver.WebServer
	feed       *webserver.Feed
	auth       *session.Session
	stores     *stores.Stores
	linkStatus *linkclient.LinkStatus
	indicators *metrics.PromIndicators
	registry   *prometheus.Registry
	nc         *util.NetworkConstants
	env        *Env
}

// Flags Server flags
type Flags struct {
	networkName string
	envFile     string
	logDebug    bool
	logTrace    bool
	webUIAddr   string
	webUIPort   int
	dataDir     string
	refresh     time.Duration
}

func main() {

	var (
		err error
		wg  sync.WaitGroup
	)

	server := new(SatslinkServer)
	server.parseArgs()

	// Logging
	setupLogging(server.dataDir, server.logDebug, server.logTrace)

	// Clean exits
	shutdownChannel := setupCloseChannel()

	log.Infof("=== Satslink %s (%s) ===", version, commitHash)
	log.Infof("=== Mode: %s ===", server.networkName)

	if err := server.loadConfig(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	// Open/Init database
	server.Storage, err = storage.InitStorage(server.dataDir, server.networkName)
	if err != nil {
		log.WithError(err).Fatal("Could not open storage")
	}

	if err := server.initEndpoints(); err != nil {
		log.WithError(err).Fatal("Could not set up gateway endpoints")
	}

	// Notifications handler
	server.NotificationHandler, err = notifications.NewHandler(server.Storage)
	if err != nil {
		log.WithError(err).Fatal("Unable to load notifiers")
	}

	if err := server.initClients(); err != nil {
		log.WithError(err).Fatal("Cannot create gateway client")
	}

	// Shared by the stores (publisher) and the web server (subscribers)
	server.feed = webserver.NewFeed()

	server.initStores()

	ctx, ctxCancel := context.WithCancel(context.Background())

	server.stores.Bind(ctx)

	// Initial fetch runs in the background; the UI serves restored caches meanwhile
	go server.initialFetch(ctx)

	// Start web UI
	server.webServer = webserver.Start(&webserver.WebServerArgs{
		Stores:        server.stores,
		Auth:          server.auth,
		LinkClient:    server.LinkClient,
		LinkStatus:    server.linkStatus,
		Storage:       server.Storage,
		Notifications: server.NotificationHandler,
		Feed:          server.feed,
		Gatherer:      server.registry,
		BindAddr:      server.webUIAddr,
		BindPort:      server.webUIPort,
		ShutdownChan:  shutdownChannel,
		WG:            &wg,
	})

	refresher := &Refresher{
		stores:     server.stores,
		auth:       server.auth,
		linkClient: server.LinkClient,
		status:     server.linkStatus,
		indicators: server.indicators,
		interval:   server.refresh,
	}

	wg.Add(1)
	go refresher.Run(ctx, shutdownChannel, &wg)

	<-shutdownChannel
	log.Warn("Shutting things down...")
	ctxCancel()

	// Wait for threads to finish
	wg.Wait()

	// Clean close DB, logs
	server.Storage.Close()
	closeLogging()

	os.Exit(0)
}

func (s *SatslinkServer) loadConfig() error {

	vals, err := readEnv(s.envFile)
	if err != nil {
		return err
	}

	s.nc, err = util.GetNetworkConstants(s.networkName, vals[ENV_II_CANISTER_ID])
	if err != nil {
		return err
	}

	s.env, err = parseEnv(vals, s.nc)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"Satslinker": s.env.SatslinkerCanister.String(),
		"Token":      s.env.SatslinkToken.String(),
		"ICP":        s.env.IcpToken.String(),
		"IdP":        s.nc.IdentityProvider,
	}).Debug("Loaded configuration")

	return nil
}

// initEndpoints seeds the defaults on first run and adds GATEWAY_URL
func (s *SatslinkServer) initEndpoints() error {

	if err := s.AddDefaultEndpoints(s.nc); err != nil {
		return err
	}

	if s.env.GatewayURL != "" {
		if _, err := s.AddGatewayEndpoint(s.env.GatewayURL); err != nil {
			return err
		}
	}

	return nil
}

func (s *SatslinkServer) initClients() error {

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.indicators = metrics.NewPromIndicators(s.networkName, s.registry)

	endpoints, err := s.GatewayEndpointList()
	if err != nil {
		return err
	}

	s.LinkClient, err = linkclient.New(linkclient.Config{
		Endpoints: endpoints,
		Recorder:  s.indicators,
	})
	if err != nil {
		return err
	}

	s.linkStatus = linkclient.NewLinkStatus()
	s.linkStatus.SetEndpoint(s.Current(), s.IsPrimary)

	return nil
}

func (s *SatslinkServer) initStores() {

	s.auth = session.New(s.Storage)
	if err := s.auth.Restore(); err != nil {
		log.WithError(err).Warn("Discarding saved session")
		_ = s.auth.Deauthorize()
	}

	s.auth.OnChange(func(authorized bool, provider session.Provider) {
		identity := ""
		if pid, ok := s.auth.Identity(); ok {
			identity = pid.String()
		}
		s.linkStatus.SetSession(identity, string(provider), authorized)
	})

	if pid, ok := s.auth.Identity(); ok {
		s.linkStatus.SetSession(pid.String(), string(s.auth.Provider()), true)
	}

	var creds stores.CredentialRequester
	if s.env.CredentialRelayURL != "" {
		relay, err := credentials.NewRelayPresenter(s.env.CredentialRelayURL)
		if err != nil {
			log.WithError(err).Error("Unable to set up credential relay")
		} else {
			creds = credentials.NewFlow(relay, s.nc)
		}
	}

	s.stores = stores.New(stores.Config{
		Auth:        s.auth,
		Ledgers:     s.ledger,
		Satslinker:  s.Satslinker(s.env.SatslinkerCanister),
		Price:       s.Price(s.env.IcpSwapInfo),
		Credentials: creds,
		Hooks: &stores.Hooks{
			Cache:     s.Storage,
			Publisher: s.feed,
			Notifier:  s.NotificationHandler,
		},
		Defaults: stores.DefaultTokens{
			ICP:      s.env.IcpToken,
			Satslink: s.env.SatslinkToken,
		},
		SatslinkerCanister: s.env.SatslinkerCanister,
		PoolPageSize:       s.nc.PoolPageSize,
	})

	s.stores.Restore()
}

func (s *SatslinkServer) ledger(token util.Principal) stores.LedgerAPI {
	return s.Ledger(token)
}

// initialFetch warms every cache once. A failing public fetch does not hold
// back the session data, so a restored session still gets its balances.
func (s *SatslinkServer) initialFetch(ctx context.Context) {

	initialErr := s.stores.FetchInitial(ctx)
	if initialErr != nil {
		log.WithError(initialErr).Error("Initial fetch failed")
		s.linkStatus.SetError(initialErr)
	}

	authorized := s.auth.IsAuthorized()

	if authorized {
		if err := s.stores.FetchAuthorized(ctx); err != nil {
			log.WithError(err).Error("Unable to fetch session data")
			s.linkStatus.SetError(err)
		}
	}

	switch {
	case initialErr != nil && util.CodeOf(initialErr) == util.ErrNetwork:
		s.linkStatus.SetState(linkclient.STATE_UNREACHABLE)
	case authorized:
		s.linkStatus.SetState(linkclient.STATE_READY)
	default:
		s.linkStatus.SetState(linkclient.STATE_NO_SESSION)
	}

	log.Info("Initial fetch complete")
}

func setupCloseChannel() chan interface{} {

	// Create channels for signals
	signalChan := make(chan os.Signal, 1)
	closingChan := make(chan interface{}, 1)

	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		close(closingChan)
	}()

	return closingChan
}

func (s *SatslinkServer) parseArgs() {

	// Args
	flag.StringVar(&s.networkName, "mode", util.NETWORK_IC, fmt.Sprintf("Which network to use: %s", util.AvailableNetworks()))
	flag.StringVar(&s.envFile, "env", ".env", "Location of the .env file")

	flag.BoolVar(&s.logDebug, "debug", false, "Enable debug-level logging")
	flag.BoolVar(&s.logTrace, "trace", false, "Enable trace-level logging")

	flag.StringVar(&s.webUIAddr, "webuiaddr", "127.0.0.1", "Address on which to bind web UI server")
	flag.IntVar(&s.webUIPort, "webuiport", 8082, "Port on which to bind web UI server")

	flag.StringVar(&s.dataDir, "datadir", "./", "Location of database and logs")
	flag.DurationVar(&s.refresh, "refresh", DEFAULT_REFRESH, "Interval between background refreshes")

	printVersion := flag.Bool("version", false, "Show version and exit")

	flag.Parse()

	// Sanity
	if !util.IsValidNetwork(s.networkName) {
		log.Errorf("Unknown network: %s", s.networkName)
		flag.Usage()
		os.Exit(1)
	}

	if s.refresh <= 0 {
		log.Errorf("Refresh interval must be positive: %s", s.refresh)
		os.Exit(1)
	}

	// Handle print version and exit
	if *printVersion {
		log.Printf("Satslink %s (%s)", version, commitHash)
		os.Exit(0)
	}
}
