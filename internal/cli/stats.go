package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/spf13/cobra"
)

var statsServer string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics from a running parley-server",
	Long: `Show in-memory runtime statistics (since restart) from a running
parley-server instance.

Examples:
  parley stats
  parley stats --server http://localhost:8585`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsServer, "server", "", "server base URL (default http://localhost:<configured port>)")
}

func runStats(cmd *cobra.Command, args []string) error {
	base := statsServer
	if base == "" {
		base = "http://localhost:" + cfg.ServerPort
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(base + "/api/stats")
	if err != nil {
		return fmt.Errorf("fetch stats from %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch stats from %s: status %d", base, resp.StatusCode)
	}

	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	printSnapshot(snap)
	return nil
}

// printSnapshot displays server runtime statistics.
func printSnapshot(snap metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", snap.UptimeSeconds)

	if len(snap.Operations) == 0 {
		fmt.Println("\nNo operations recorded yet.")
		return
	}

	names := make([]string, 0, len(snap.Operations))
	for name := range snap.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		op := snap.Operations[name]
		fmt.Printf("\n%s:\n", name)
		fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
		fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
			op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		if op.TotalPromptTokens > 0 || op.TotalCompletionTokens > 0 {
			fmt.Printf("  Tokens: %d prompt, %d completion (avg %.0f out per call)\n",
				op.TotalPromptTokens, op.TotalCompletionTokens, op.AvgCompletionTokens)
		}
	}
}
