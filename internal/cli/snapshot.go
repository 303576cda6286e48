package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/snapshot"
)

func init() {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or hydrate core memory snapshots",
	}

	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Write core memories as markdown (stdout if no file)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runSnapshotExport,
	}

	hydrate := &cobra.Command{
		Use:   "hydrate [file]",
		Short: "Load core memories from a snapshot (stdin if no file)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runSnapshotHydrate,
	}
	hydrate.Flags().Bool("force", false, "Hydrate even if the store already holds entries")

	cmd.AddCommand(export, hydrate)
	RootCmd.AddCommand(cmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) {
	s, _, _ := openStore(cmd.Context())
	defer s.Close()

	out := os.Stdout
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			exitErr("create snapshot file", err)
		}
		defer f.Close()
		out = f
	}

	n, err := snapshot.Export(cmd.Context(), s, out)
	if err != nil {
		exitErr("export", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d core entries\n", n)
}

func runSnapshotHydrate(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	s, _, logger := openStore(cmd.Context())
	defer s.Close()

	in := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open snapshot file", err)
		}
		defer f.Close()
		in = f
	}

	n, err := snapshot.Hydrate(cmd.Context(), in, s, force, logger)
	if err != nil {
		exitErr("hydrate", err)
	}
	fmt.Printf("hydrated %d core entries\n", n)
}
