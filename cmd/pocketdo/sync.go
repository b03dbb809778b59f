package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pocketdo/pocketdo/internal/bus"
	"github.com/pocketdo/pocketdo/internal/connectivity"
	"github.com/pocketdo/pocketdo/internal/dashboard"
	"github.com/pocketdo/pocketdo/internal/inbox"
	"github.com/pocketdo/pocketdo/internal/syncer"
	"github.com/pocketdo/pocketdo/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Synchronize with the server",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run one sync cycle and report the result",
	Long: `Run a single sync cycle: push pending local changes, then pull and
merge remote changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		provider := credProvider()
		client := newTransport(provider)

		engCfg := syncer.DefaultConfig()
		engCfg.Interval = cfg.SyncInterval

		engine, err := syncer.New(st, client, connectivity.NewMonitor(true), engCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating sync engine: %v\n", err)
			os.Exit(1)
		}
		defer engine.Destroy()

		if err := engine.Initialize(provider); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("⇅"), cfg.ServerURL)
		start := time.Now()
		engine.TriggerSync()

		status := waitForCycle(engine, 2*time.Minute)
		elapsed := time.Since(start).Round(time.Millisecond)

		if status.Error != "" {
			fmt.Fprintf(os.Stderr, "%s Sync failed after %v: %s\n",
				ui.RenderFail("✗"), elapsed, status.Error)
			fmt.Fprintf(os.Stderr, "   %d change(s) still pending\n", status.PendingChanges)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
		fmt.Printf("   Pending: %d\n", status.PendingChanges)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and last sync time",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		pending, err := st.PendingCount(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading store: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("⇅"))
		fmt.Printf("Store: %s\n", cfg.DBPath)
		if pending == 0 {
			fmt.Printf("Pending: %s\n", ui.RenderPass("0 changes"))
		} else {
			fmt.Printf("Pending: %s\n", ui.RenderWarn(fmt.Sprintf("%d change(s)", pending)))
		}
		if credProvider().Valid() {
			fmt.Printf("Credentials: %s\n", ui.RenderPass("present"))
		} else {
			fmt.Printf("Credentials: %s (run 'pocketdo login')\n", ui.RenderWarn("missing"))
		}
		fmt.Println()
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the sync engine in the foreground until interrupted.

The daemon:
  1. Syncs periodically and on every local change
  2. Probes connectivity and syncs immediately when back online
  3. Imports task files dropped into the inbox directory
  4. Serves a WebSocket dashboard with live task and sync status updates

Logs go to a rotating file under the config directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

// waitForCycle blocks until a triggered cycle has finished.
func waitForCycle(engine *syncer.Engine, timeout time.Duration) syncer.Status {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status := engine.Status()
		if !status.Syncing && (status.LastSync != nil || status.Error != "") {
			return status
		}
		time.Sleep(100 * time.Millisecond)
	}
	status := engine.Status()
	if status.Error == "" {
		status.Error = "timed out waiting for sync cycle"
	}
	return status
}

func runDaemon() {
	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[daemon] ", log.LstdFlags)

	st := openStore()
	defer st.Close()

	provider := credProvider()
	client := newTransport(provider)

	taskBus := bus.New(st, log.New(logger.Writer(), "[bus] ", log.LstdFlags))
	defer taskBus.Close()

	monitor := connectivity.NewMonitor(true)

	engCfg := syncer.DefaultConfig()
	engCfg.Interval = cfg.SyncInterval
	engCfg.Logger = log.New(logger.Writer(), "[sync] ", log.LstdFlags)

	engine, err := syncer.New(st, client, monitor, engCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating sync engine: %v\n", err)
		os.Exit(1)
	}
	if err := engine.Initialize(provider); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connectivity prober
	go connectivity.Probe(ctx, monitor, client, cfg.ProbeInterval,
		log.New(logger.Writer(), "[connectivity] ", log.LstdFlags))

	// Inbox importer
	inboxCfg := inbox.DefaultConfig()
	inboxCfg.Logger = log.New(logger.Writer(), "[inbox] ", log.LstdFlags)
	importer, err := inbox.NewWithConfig(st, cfg.InboxDir, inboxCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating inbox importer: %v\n", err)
		os.Exit(1)
	}
	go func() {
		if err := importer.Start(ctx); err != nil {
			logger.Printf("Inbox importer stopped with error: %v", err)
		}
	}()

	// Dashboard
	dashCfg := dashboard.DefaultConfig()
	dashCfg.Port = cfg.DashboardPort
	dashCfg.Logger = log.New(logger.Writer(), "[dashboard] ", log.LstdFlags)
	dash := dashboard.NewServer(taskBus, engine.Status, dashCfg)
	if err := dash.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
		os.Exit(1)
	}
	defer dash.Stop()

	fmt.Printf("%s pocketdo daemon running\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Store: %s\n", cfg.DBPath)
	fmt.Printf("   Inbox: %s\n", cfg.InboxDir)
	fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.DashboardPort)
	fmt.Printf("   Log: %s\n", cfg.LogFile)
	fmt.Printf("\nPress Ctrl+C to stop\n")

	<-ctx.Done()
	fmt.Printf("\n%s Shutting down...\n", ui.RenderAccent("·"))
}

func init() {
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
}
