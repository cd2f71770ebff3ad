package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/viewsync/admin"
	"github.com/maxpert/viewsync/cfg"
	"github.com/maxpert/viewsync/cluster"
	"github.com/maxpert/viewsync/engine"
	vsgrpc "github.com/maxpert/viewsync/grpc"
	"github.com/maxpert/viewsync/hlc"
	"github.com/maxpert/viewsync/publisher"
	_ "github.com/maxpert/viewsync/publisher/sink"
	"github.com/maxpert/viewsync/reconcile"
	"github.com/maxpert/viewsync/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const metricsInterval = 5 * time.Second

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()

	log.Info().Msg("viewsync - view-synchronized transaction reconciliation")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	self := reconcile.Address(cfg.Config.Cluster.AdvertiseAddress)

	// Local commit log
	clock := hlc.NewClock(cfg.Config.NodeID)
	commitLog, err := engine.Open(cfg.Config.DataDir, cfg.Config.Engine.Path, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open commit log")
		return
	}
	defer commitLog.Close()

	// Transport
	dispatcher := vsgrpc.NewDispatcher(reconcile.NodeStateCodec{})
	client := vsgrpc.NewClient(string(self))
	defer client.Close()

	sendTimeout := time.Duration(cfg.Config.Transport.SendTimeoutMS) * time.Millisecond
	gateway := vsgrpc.NewGateway(self, client, dispatcher, sendTimeout)

	// Membership
	views := cluster.NewViewManager(initialView(self))
	defer views.Close()

	syncMode, err := reconcile.ParseSyncMode(cfg.Config.DataSync.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid data sync mode")
		return
	}

	collector, err := reconcile.NewCollector(reconcile.CollectorConfig{
		Self:          self,
		Gateway:       gateway,
		Views:         views,
		TransactionID: commitLog.LastCommitted,
		SyncMode:      syncMode,
		SyncPort:      uint16(cfg.Config.DataSync.Port),
		AckTimeout:    time.Duration(cfg.Config.Reconcile.AckTimeoutMS) * time.Millisecond,
		PollInterval:  time.Duration(cfg.Config.Reconcile.PollIntervalMS) * time.Millisecond,
		MaxAttempts:   cfg.Config.Reconcile.MaxAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create collector")
		return
	}
	dispatcher.Subscribe(collector)

	// Decision journal
	var journal *publisher.Registry
	if cfg.Config.Journal.Enabled {
		journal, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:     cfg.Config.DataDir,
			NodeID:      cfg.Config.NodeID,
			Self:        self,
			SinkConfigs: cfg.Config.Journal.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize decision journal")
			return
		}
		if err := journal.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start decision journal")
			return
		}
		defer journal.Stop()
	}

	reconcilerConfig := cluster.ReconcilerConfig{
		Views:     views,
		Collector: collector,
		Peers:     client,
	}
	if journal != nil {
		reconcilerConfig.Journal = journal
	}
	reconciler := cluster.NewReconciler(reconcilerConfig)
	reconciler.OnDecision(logDecision)

	// Cluster port: gRPC delivery, metrics and admin API
	server := vsgrpc.NewServer(vsgrpc.ServerConfig{
		Address: cfg.Config.Cluster.BindAddress,
		Port:    cfg.Config.Cluster.Port,
	}, dispatcher)

	if h := telemetry.GetMetricsHandler(); h != nil {
		server.SetMetricsHandler(h)
	}
	if cfg.Config.Admin.Enabled {
		var journalSource admin.JournalSource
		if journal != nil {
			journalSource = journal
		}
		server.SetAdminHandler(admin.NewRouter(admin.NewAdminHandlers(views, reconciler, commitLog, journalSource)))
	}

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
		return
	}
	defer server.Stop()

	metrics := telemetry.NewMetricsCollector(reconciler, metricsInterval)
	metrics.Start()
	defer metrics.Stop()

	// Runs after reconciler.Stop and before client.Close
	defer gateway.Wait()
	reconciler.Start()
	defer reconciler.Stop()

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("address", string(self)).
		Int("port", cfg.Config.Cluster.Port).
		Uint64("view_id", views.ActiveViewID()).
		Uint64("txn_id", commitLog.LastCommitted()).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutting down")
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// initialView is the configured member list; self is always a member
func initialView(self reconcile.Address) reconcile.View {
	members := make([]reconcile.Address, 0, len(cfg.Config.Cluster.Members)+1)
	members = append(members, self)
	for _, m := range cfg.Config.Cluster.Members {
		members = append(members, reconcile.Address(m))
	}
	return reconcile.NewView(cfg.Config.Cluster.InitialViewID, members...)
}

func logDecision(d cluster.Decision) {
	event := log.Info().
		Uint64("view_id", d.View.ID).
		Str("outcome", d.State.Outcome()).
		Uint64("txn_id", d.State.MyTransactionID)

	if t := d.State.SyncTarget; t != nil {
		event = event.
			Str("sync_from", string(t.Address)).
			Uint64("target_txn_id", t.TransactionID).
			Str("sync_mode", t.SyncMode.String()).
			Uint16("sync_port", t.SyncPort)
	}
	event.Msg("Reconciliation decision")
}
