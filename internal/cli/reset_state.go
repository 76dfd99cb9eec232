package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/tailwatch/internal/core/state"
)

var resetStateCmd = &cobra.Command{
	Use:   "reset-state",
	Short: "Delete the state file and its backup so the next run starts at EOF",
	Args:  cobra.NoArgs,
	Run:   runResetState,
}

func init() {
	rootCmd.AddCommand(resetStateCmd)
}

func runResetState(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	store := state.NewStore(cfg.State.Path, slog.Default())
	if err := store.Lock(); err != nil {
		slog.Error("State is in use by a running watcher", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Unlock()
	}()

	if err := store.Remove(); err != nil {
		slog.Error("Failed to reset state", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Removed state %s\n", cfg.State.Path)
}
