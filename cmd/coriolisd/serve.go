package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coriolis-mq/coriolis/pkg/cluster"
	"github.com/coriolis-mq/coriolis/pkg/events"
	"github.com/coriolis-mq/coriolis/pkg/flags"
	"github.com/coriolis-mq/coriolis/pkg/log"
	"github.com/coriolis-mq/coriolis/pkg/memctl"
	"github.com/coriolis-mq/coriolis/pkg/metrics"
	"github.com/coriolis-mq/coriolis/pkg/peerrpc"
	"github.com/coriolis-mq/coriolis/pkg/storage"
	"github.com/spf13/cobra"
)

const defaultPeerTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Coriolis node: the Feature-Flag Coordinator, the Memory-Pressure Feedback Controller, and the cluster membership listener",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "", "unique ID for this node (required)")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7400", "PeerRPC/raft bind address")
	serveCmd.Flags().String("data-dir", "./data", "directory for persisted node state")
	serveCmd.Flags().String("catalog", "", "path to a YAML app-catalog file (see catalog.go)")
	serveCmd.Flags().String("join", "", "address of an existing cluster member to join, instead of bootstrapping")
	serveCmd.Flags().String("secret", "", "shared cluster admission secret (generated on bootstrap if empty)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the /metrics and /healthz HTTP endpoints")
	serveCmd.Flags().Int64("vmm-bytes", 0, "override the memory budget instead of reading it from cgroups (0 = autodetect)")
	_ = serveCmd.MarkFlagRequired("node-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	catalogPath, _ := cmd.Flags().GetString("catalog")
	joinAddr, _ := cmd.Flags().GetString("join")
	secret, _ := cmd.Flags().GetString("secret")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	vmmOverride, _ := cmd.Flags().GetInt64("vmm-bytes")

	clog := log.WithComponent("coriolisd")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	catalog, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker)

	enabledStore, err := storage.NewBoltEnabledStore(dataDir)
	if err != nil {
		return fmt.Errorf("open enabled-flag store: %w", err)
	}
	defer enabledStore.Close()

	catalogCache, err := storage.NewCatalogCache(enabledStore)
	if err != nil {
		return fmt.Errorf("open catalog cache: %w", err)
	}

	peerClient := peerrpc.NewClient()
	defer peerClient.Close()

	var membership *cluster.RaftMembership
	coordinator := flags.NewCoordinator(enabledStore, catalog, peerSourceFunc(func(ctx context.Context) []flags.Peer {
		if membership == nil {
			return nil
		}
		return membership.RunningPeers(ctx)
	}), peerClient, defaultPeerTimeout).WithCatalogCache(catalogCache).WithEvents(broker).WithMigrations(builtinMigrations())

	if err := coordinator.Init(context.Background()); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}

	clusterSecret := cluster.ClusterSecret(secret)
	if joinAddr == "" && clusterSecret == "" {
		clusterSecret, err = cluster.GenerateClusterSecret()
		if err != nil {
			return fmt.Errorf("generate cluster secret: %w", err)
		}
		clog.Info().Str("secret", string(clusterSecret)).Msg("bootstrapping cluster with a generated admission secret; share it with nodes that join")
	}

	membership, err = cluster.NewRaftMembership(cluster.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
		Secret:   clusterSecret,
	}, peerClient, coordinator, defaultPeerTimeout)
	if err != nil {
		return fmt.Errorf("initialize membership: %w", err)
	}
	membership.WithEvents(broker)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPeerTimeout)
	if joinAddr != "" {
		clog.Info().Str("leader", joinAddr).Msg("joining existing cluster")
		err = membership.Join(ctx, joinAddr)
	} else {
		err = membership.Bootstrap()
	}
	cancel()
	if err != nil {
		return fmt.Errorf("form cluster: %w", err)
	}

	handler := &cluster.Handler{Membership: membership, Next: coordinator}
	server := peerrpc.NewServer(handler)

	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddr, err)
	}
	go func() {
		if err := server.Serve(lis); err != nil {
			clog.Error().Err(err).Msg("peerrpc server stopped")
		}
	}()
	clog.Info().Str("addr", bindAddr).Msg("peerrpc server listening")

	var vmm memctl.VMMonitor = memctl.NewCgroupVMMonitor()
	if vmmOverride > 0 {
		vmm = fixedVMMonitor(vmmOverride)
	}
	controller := memctl.NewController(vmm, memctl.CurrentUsage, memctl.DefaultTickMS*time.Millisecond).WithEvents(broker)
	controller.Start(context.Background())
	defer controller.Stop()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			membership.RefreshMetrics()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			clog.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	clog.Info().Str("addr", metricsAddr).Msg("metrics/healthz endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	clog.Info().Msg("shutting down")

	server.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return metricsServer.Shutdown(shutdownCtx)
}

// logEvents drains the broker and logs each event, standing in for the
// CLI watchers / external notification sinks a real deployment would
// subscribe instead.
func logEvents(broker *events.Broker) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	elog := log.WithComponent("events")
	for evt := range sub {
		entry := elog.Info().Str("type", string(evt.Type)).Str("id", evt.ID)
		for k, v := range evt.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(evt.Message)
	}
}

// peerSourceFunc adapts a function to flags.PeerSource.
type peerSourceFunc func(ctx context.Context) []flags.Peer

func (f peerSourceFunc) RunningPeers(ctx context.Context) []flags.Peer { return f(ctx) }

// fixedVMMonitor reports a constant memory budget, overriding cgroup
// autodetection for hosts that don't run under a cgroup (e.g. local
// development outside a container).
type fixedVMMonitor int64

func (v fixedVMMonitor) Limit(ctx context.Context) (int64, bool) { return int64(v), true }
