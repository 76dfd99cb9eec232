package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/tailwatch/internal/core/state"
	"github.com/vietddude/tailwatch/internal/indexing/recovery"
)

var resetBreakerCmd = &cobra.Command{
	Use:   "reset-breaker [component]",
	Short: "Force a circuit breaker closed (default component: the tailer)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runBreaker(cmd, args, false)
	},
}

var tripBreakerCmd = &cobra.Command{
	Use:   "trip-breaker [component]",
	Short: "Force a circuit breaker open for one cooldown (default component: the tailer)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runBreaker(cmd, args, true)
	},
}

func init() {
	rootCmd.AddCommand(resetBreakerCmd)
	rootCmd.AddCommand(tripBreakerCmd)
}

func runBreaker(cmd *cobra.Command, args []string, trip bool) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	component := cfg.Watch.Component
	if component == "" {
		component = "tailer"
	}
	if len(args) == 1 {
		component = args[0]
	}

	store := state.NewStore(cfg.State.Path, slog.Default())
	if err := store.Lock(); err != nil {
		slog.Error("State is in use by a running watcher", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Unlock()
	}()
	store.Load()

	engine := recovery.NewEngine(cfg.Recovery, store, slog.Default())
	if trip {
		engine.Trip(component)
	} else {
		engine.Reset(component)
	}

	cb := store.CircuitBreaker(component)
	fmt.Printf("Circuit breaker %s is now %s\n", component, cb.Phase())
}
