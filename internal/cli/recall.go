package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search memories",
		Long:  "Search memories by meaning and keywords. Results are scored 0 to 1, best first.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().IntP("limit", "l", 10, "Maximum results")
	cmd.Flags().StringP("session", "s", "", "Restrict to a session (untagged memories always match)")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	session, _ := cmd.Flags().GetString("session")

	s, _, _ := openStore(cmd.Context())
	defer s.Close()

	results, err := s.Recall(cmd.Context(), store.RecallParams{
		Query:     strings.Join(args, " "),
		Limit:     limit,
		SessionID: session,
	})
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
