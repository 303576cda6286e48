package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics and backend health",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, cfg, _ := openStore(cmd.Context())
	defer s.Close()

	count, err := s.Count(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	stats := struct {
		Backend string `json:"backend"`
		DataDir string `json:"data_dir"`
		Entries int    `json:"entries"`
		Healthy bool   `json:"healthy"`
	}{
		Backend: cfg.Backend,
		DataDir: cfg.DataDir,
		Entries: count,
		Healthy: s.HealthCheck(cmd.Context()),
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
