package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/hygiene"
)

func init() {
	cmd := &cobra.Command{
		Use:   "hygiene",
		Short: "Run a memory maintenance pass",
		Long:  "Archive old daily files, purge expired archives, and prune stale conversation entries. Core memories are never touched.",
		Run:   runHygiene,
	}

	cmd.Flags().Bool("force", false, "Run even if the last pass was recent")
	cmd.Flags().Bool("watch", false, "Keep running, one pass per interval")

	RootCmd.AddCommand(cmd)
}

func runHygiene(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	s, cfg, logger := openStore(cmd.Context())
	defer s.Close()

	if !cfg.HygieneEnabled && !force {
		fmt.Println("hygiene is disabled (MNEMO_HYGIENE_ENABLED=false; use --force to run anyway)")
		return
	}

	opts := hygiene.Options{
		StatePath:                 filepath.Join(cfg.DataDir, "hygiene.json"),
		Interval:                  cfg.HygieneInterval,
		ArchiveAfterDays:          cfg.ArchiveAfterDays,
		PurgeAfterDays:            cfg.PurgeAfterDays,
		ConversationRetentionDays: cfg.ConversationRetentionDays,
		Logger:                    logger,
	}

	// Each backend supports the hygiene actions it can express.
	if p, ok := s.(hygiene.Pruner); ok {
		opts.Pruner = p
	}
	if a, ok := s.(hygiene.Archiver); ok {
		opts.Archiver = a
	}

	sched, err := hygiene.NewScheduler(opts)
	if err != nil {
		exitErr("hygiene", err)
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		if err := sched.Run(cmd.Context()); err != nil {
			exitErr("hygiene watch", err)
		}
		return
	}

	var report hygiene.Report
	if force {
		report, err = sched.RunNow(cmd.Context())
		if err != nil {
			exitErr("hygiene", err)
		}
	} else {
		var ran bool
		report, ran, err = sched.RunOnce(cmd.Context())
		if err != nil {
			exitErr("hygiene", err)
		}
		if !ran {
			fmt.Println("skipped: last pass was recent (use --force to override)")
			return
		}
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
