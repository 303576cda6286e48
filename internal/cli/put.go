package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory under a key. Content can be a positional arg or piped via stdin. Writing to an existing key replaces its content.",
		Run:   runPut,
	}

	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().StringP("category", "c", "", "Category: core, daily, conversation, or custom (default: conversation)")
	cmd.Flags().StringP("session", "s", "", "Session id; empty means visible to every session")

	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	key, _ := cmd.Flags().GetString("key")
	category, _ := cmd.Flags().GetString("category")
	session, _ := cmd.Flags().GetString("session")

	// Content: positional arg first, then stdin.
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	s, _, _ := openStore(cmd.Context())
	defer s.Close()

	entry, err := s.Put(cmd.Context(), store.PutParams{
		Key:       key,
		Content:   strings.TrimSpace(content),
		Category:  model.Category(category),
		SessionID: session,
	})
	if err != nil {
		exitErr("put", err)
	}

	b, _ := json.Marshal(entry)
	fmt.Println(string(b))
}
