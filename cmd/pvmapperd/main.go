// Command pvmapperd runs the resolver as a standalone daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pvmapper/pvmapper/pkg/config"
	"github.com/pvmapper/pvmapper/pkg/diagnostics"
	"github.com/pvmapper/pvmapper/pkg/directory"
	"github.com/pvmapper/pvmapper/pkg/iocguard"
	"github.com/pvmapper/pvmapper/pkg/listener"
	"github.com/pvmapper/pvmapper/pkg/logging"
	"github.com/pvmapper/pvmapper/pkg/reactor"
	"github.com/pvmapper/pvmapper/pkg/searcher"
)

const dumpInterval = 10 * time.Second

func main() {
	var dumpStatePath string

	rootCmd := &cobra.Command{
		Use:   "pvmapperd <config_file>",
		Short: "Run the Channel Access name-resolution intermediary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], dumpStatePath)
		},
	}
	rootCmd.Flags().StringVar(&dumpStatePath, "dump-state", "", "periodically write a JSON state snapshot to this path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, dumpStatePath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("pvmapperd: %w", err)
	}

	log, err := logging.Init(cfg)
	if err != nil {
		return fmt.Errorf("pvmapperd: init logging: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	runID := diagnostics.NewRunID()
	log.Infow("starting", "runID", runID, "config", configPath)

	metrics, err := diagnostics.NewMetrics()
	if err != nil {
		return fmt.Errorf("pvmapperd: init metrics: %w", err)
	}

	r := reactor.New(reactor.DefaultInterval)

	searchers := make([]*searcher.Searcher, 0, len(cfg.SearchAddrs))
	for _, addr := range cfg.SearchAddrs {
		s, err := searcher.New(addr, cfg.SearchIntervalSeconds, nil)
		if err != nil {
			return fmt.Errorf("pvmapperd: start searcher on %s: %w", addr, err)
		}
		r.Add(s)
		searchers = append(searchers, s)
		log.Infow("searching upstream", "addr", addr.String())
	}
	if len(searchers) == 0 {
		log.Warnw("no CA_SEARCH_ADDRESS configured; resolver will never resolve any PV")
	}

	dispatcher := directory.New(r, searchers, purgeDelay(cfg), iocguard.DefaultHeartbeatInterval)
	dispatcher.SetMetrics(metrics)
	for _, s := range searchers {
		s.SetOnFound(dispatcher.OnSearchReply)
	}

	for _, addr := range cfg.ListenAddrs {
		l, err := listener.New(addr, cfg.ACL, dispatcher)
		if err != nil {
			return fmt.Errorf("pvmapperd: start listener on %s: %w", addr, err)
		}
		r.Add(l)
		log.Infow("listening", "addr", l.Addr().String())
	}

	var lastDump time.Time
	r.OnStep(func(now time.Time) {
		dispatcher.Tick(now)
		if err := metrics.LogSnapshot(context.Background()); err != nil {
			log.Debugw("metrics snapshot failed", "err", err)
		}
		if dumpStatePath == "" || (!lastDump.IsZero() && now.Sub(lastDump) < dumpInterval) {
			return
		}
		lastDump = now
		if err := dumpState(dumpStatePath, runID, dispatcher); err != nil {
			log.Debugw("state dump failed", "err", err)
		}
	})

	stop := make(chan struct{})
	log.WatchSignals(stop)
	defer close(stop)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(ctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Infow("shut down")
	return nil
}

func purgeDelay(cfg *config.Config) time.Duration {
	return time.Duration(cfg.PurgeDelaySeconds) * time.Second
}

func dumpState(path, runID string, d *directory.Dispatcher) error {
	proc, err := diagnostics.CollectProcStats(context.Background())
	if err != nil {
		return err
	}

	snapshot := diagnostics.StateSnapshot{
		RunID:        runID,
		GeneratedAt:  time.Now(),
		PVCount:      d.PVCount(),
		IOCCount:     d.IOCCount(),
		BinOccupancy: d.BinOccupancy(),
		Proc:         proc,
	}
	return diagnostics.DumpState(path, snapshot)
}
