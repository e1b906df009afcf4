// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/merklekv/merklekv/antientropy"
	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/config"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/identity"
	"github.com/merklekv/merklekv/logging"
	"github.com/merklekv/merklekv/metrics"
	"github.com/merklekv/merklekv/replication"
	"github.com/merklekv/merklekv/server"
	"github.com/merklekv/merklekv/store"
)

func serveCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a MerkleKV node until SHUTDOWN or a termination signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return configError{err}
			}
			return runNode(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&path, "config", "merklekv.yaml", "path to the node's YAML config file")
	return cmd
}

// node bundles every long-lived component runNode starts, so shutdown can
// tear them down in the reverse of their startup order.
type node struct {
	cfg    config.Config
	log    *zap.Logger
	store  *store.Store
	exec   *executor.Executor
	repl   *replication.Replicator
	ae     *antientropy.AntiEntropy
	aeSrv  *antientropy.Server
	srv    *server.Server
	collec *metrics.Collector

	clientLn net.Listener
	syncLn   net.Listener
	metricsS *http.Server
}

// runNode builds and runs every core component (store, executor,
// replicator, anti-entropy, client server, metrics) until ctx is canceled,
// a termination signal arrives, or a client issues SHUTDOWN.
func runNode(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return configError{err}
	}
	defer logger.Sync()

	n := &node{cfg: cfg, log: logger}
	if err := n.start(); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	n.srv = server.New(n.exec, n.repl, stop, cfg.Network.MaxConnections)
	n.srv.SetLogger(n.log)

	clientLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Network.BindAddress, cfg.Network.BindPort))
	if err != nil {
		return listenerError{fmt.Errorf("bind client listener: %w", err)}
	}
	n.clientLn = clientLn

	syncLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Network.BindAddress, cfg.Network.EffectiveSyncPort()))
	if err != nil {
		clientLn.Close()
		return listenerError{fmt.Errorf("bind anti-entropy sync listener: %w", err)}
	}
	n.syncLn = syncLn

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.srv.Serve(clientLn); err != nil {
			n.log.Debug("client listener stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.aeSrv.Serve(syncLn); err != nil {
			n.log.Debug("anti-entropy listener stopped", zap.Error(err))
		}
	}()

	if cfg.AntiEntropy.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.ae.Run(runCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.collec.Run(runCtx, time.Second)
	}()

	select {
	case <-runCtx.Done():
	case sig := <-sigCh:
		n.log.Info("received signal, shutting down", zap.Stringer("signal", sig))
		stop()
	}

	n.shutdown()
	wg.Wait()
	return nil
}

func (n *node) start() error {
	n.log.Info("starting merklekv", zap.String("node_id", n.cfg.NodeID))

	if n.cfg.Storage.DataDir != "" {
		backend, err := store.NewLevelDBBackend(n.cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("open durable backend: %w", err)
		}
		n.store = store.NewDurable(backend)
		if err := n.store.Load(); err != nil {
			return fmt.Errorf("load durable backend: %w", err)
		}
	} else {
		n.store = store.New()
	}

	seq := identity.NewSequencer(n.cfg.NodeID)
	b := bus.New()
	n.exec = executor.New(n.store, seq, b, buildVersion)

	registry := metrics.NewRegistry()
	m, err := metrics.New("merklekv", registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	transport := replication.NewZMQTransport(n.cfg.Replication.BrokerAddress)
	n.repl = replication.New(transport, n.cfg.Replication.TopicPrefix, n.cfg.NodeID, n.exec, bus.DefaultCapacity)
	n.repl.SetLogger(n.log)

	// Every locally-applied mutation is posted once to the bus; the
	// replicator is this node's sole subscriber on the hot path,
	// anti-entropy's cancel-point tracking being folded into the store's
	// own Lamport-tag comparison instead of a second subscription.
	sub := b.Subscribe(bus.DefaultCapacity)
	go func() {
		for ev := range sub.C {
			n.repl.PostLocal(ev)
		}
	}()

	if err := n.repl.Start(context.Background(), n.cfg.AntiEntropy.PeerList); err != nil {
		return fmt.Errorf("start replicator: %w", err)
	}

	n.aeSrv = antientropy.NewServer(n.store, n.exec, n.cfg.AntiEntropy.MaxConcurrentSessions)
	n.aeSrv.SetLogger(n.log)

	dial := func(ctx context.Context, addr string) (antientropy.PeerClient, error) {
		return antientropy.DialPeer(ctx, addr, antientropy.DefaultSessionDeadline)
	}
	n.ae = antientropy.New(n.exec, n.cfg.AntiEntropy.PeerList, n.cfg.Interval(), antientropy.DefaultSessionDeadline, dial)
	n.ae.SetLogger(n.log)

	replicationCounters := func() (uint64, uint64, uint64) {
		return n.repl.OverflowDropped(), n.repl.SelfEchoDropped(), n.repl.UnknownSchemaDropped()
	}
	n.collec = metrics.NewCollector(m, replicationCounters, n.ae.Stats, n.store.Len)

	n.exec.SetStatsSources(executor.StatsSources{
		ReplicationOverflow: n.repl.OverflowDropped,
		AntiEntropySessions: n.ae.Stats,
	})

	goCollector := prometheus.NewGoCollector()
	procCollector := prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})
	registry.MustRegister(goCollector, procCollector)

	mg := metrics.NewMultiGatherer()
	mg.Register("merklekv", registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mg, promhttp.HandlerOpts{}))
	n.metricsS = &http.Server{Addr: fmt.Sprintf("%s:%d", n.cfg.Network.BindAddress, n.cfg.Network.BindPort+2), Handler: mux}
	go func() {
		if err := n.metricsS.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	return nil
}

func (n *node) shutdown() {
	n.log.Info("shutting down")
	if n.clientLn != nil {
		n.clientLn.Close()
	}
	if n.syncLn != nil {
		n.syncLn.Close()
	}
	if n.metricsS != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n.metricsS.Shutdown(shutdownCtx)
	}
	if n.repl != nil {
		n.repl.Stop()
	}
	if n.store != nil {
		n.store.Close()
	}
}
