package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/tailwatch/internal/core/domain"
	"github.com/vietddude/tailwatch/internal/core/state"
	redisclient "github.com/vietddude/tailwatch/internal/infra/redis"
)

var fromRedis bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpointed position and circuit breaker states",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&fromRedis, "redis", false, "read the state mirrored to Redis instead of the local file")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	var st *domain.WatcherState
	source := cfg.State.Path
	if fromRedis {
		st, err = loadMirroredState(cfg.Redis)
		if err != nil {
			slog.Error("Failed to read mirrored state", "error", err)
			os.Exit(1)
		}
		source = "redis:" + cfg.Redis.KeyPrefix
	} else {
		store := state.NewStore(cfg.State.Path, slog.Default())
		source = fmt.Sprintf("%s (%s)", source, store.Load())
		st = store.Snapshot()
	}

	printState(os.Stdout, source, st)
}

func loadMirroredState(rc redisclient.Config) (*domain.WatcherState, error) {
	if !rc.Enabled() {
		return nil, fmt.Errorf("redis.url is not configured")
	}
	client, err := redisclient.NewClient(rc)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, ok, err := client.GetState(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no state mirrored under prefix %q", rc.KeyPrefix)
	}

	st := domain.NewWatcherState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode mirrored state: %w", err)
	}
	return st, nil
}

func printState(out *os.File, source string, st *domain.WatcherState) {
	inode := "-"
	if st.FileInode != nil {
		inode = fmt.Sprintf("%d", *st.FileInode)
	}

	_, _ = fmt.Fprintf(out, "Source:   %s\n", source)
	_, _ = fmt.Fprintf(out, "Position: %d\n", st.FilePosition)
	_, _ = fmt.Fprintf(out, "Inode:    %s\n\n", inode)

	components := make([]string, 0, len(st.CircuitBreakerStates))
	for c := range st.CircuitBreakerStates {
		components = append(components, c)
	}
	sort.Strings(components)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPONENT\tPHASE\tFAILURES\tLAST FAILURE\tNEXT ATTEMPT")
	for _, c := range components {
		cb := st.CircuitBreakerStates[c]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			c, cb.Phase(), cb.FailureCount, formatStamp(cb.LastFailureTime), formatStamp(cb.NextAttemptTime))
	}
	_ = w.Flush()
}

func formatStamp(ts domain.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Time().Format(time.RFC3339)
}
