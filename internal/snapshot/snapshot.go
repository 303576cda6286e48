// Package snapshot exports core memories to a markdown document and
// hydrates a store from one. Snapshots carry core entries only; they are
// meant for moving an agent's durable identity between machines, not for
// full backups.
package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/model"
	"github.com/mnemo-ai/mnemo/internal/store"
)

const header = "# Core Memory Snapshot"

// Export writes every core entry to w as markdown, newest first, and
// reports how many entries were written.
func Export(ctx context.Context, st store.Store, w io.Writer) (int, error) {
	entries, err := st.List(ctx, store.ListParams{Category: model.CategoryCore})
	if err != nil {
		return 0, fmt.Errorf("list core entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n\nExported %s\n", header, time.Now().UTC().Format(time.RFC3339))
	for _, e := range entries {
		fmt.Fprintf(bw, "\n## %s\n\n%s\n\n- created: %s\n- updated: %s\n",
			e.Key,
			escapeBody(strings.TrimRight(e.Content, "\n")),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	return len(entries), nil
}

// Hydrate reads a snapshot from r and stores every section as a core
// entry. It refuses to write into a non-empty store unless force is set.
// Malformed sections are skipped with a warning; the count of stored
// entries is returned.
func Hydrate(ctx context.Context, r io.Reader, st store.Store, force bool, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !force {
		n, err := st.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("count entries: %w", err)
		}
		if n > 0 {
			return 0, fmt.Errorf("store already holds %d entries; use force to hydrate anyway", n)
		}
	}

	sections, err := parseSections(r)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, sec := range sections {
		if sec.key == "" || strings.TrimSpace(sec.content) == "" {
			logger.Warn("skipping malformed snapshot section", zap.String("key", sec.key))
			continue
		}
		if _, err := st.Put(ctx, store.PutParams{
			Key:      sec.key,
			Content:  sec.content,
			Category: model.CategoryCore,
		}); err != nil {
			return stored, fmt.Errorf("store %q: %w", sec.key, err)
		}
		stored++
	}
	return stored, nil
}

type section struct {
	key     string
	content string
}

// escapeBody backslash-prefixes content lines that would otherwise be read
// as a section heading or metadata bullet, so hydration round-trips content
// that happens to contain the snapshot's own markers.
func escapeBody(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if needsEscape(line) {
			lines[i] = "\\" + line
		}
	}
	return strings.Join(lines, "\n")
}

// needsEscape reports whether a line collides with the document structure.
// Stripping leading backslashes first keeps already-escaped content stable
// across repeated export/hydrate cycles.
func needsEscape(line string) bool {
	trimmed := strings.TrimLeft(line, "\\")
	return strings.HasPrefix(trimmed, "## ") ||
		strings.HasPrefix(trimmed, "- created:") ||
		strings.HasPrefix(trimmed, "- updated:")
}

func unescapeLine(line string) string {
	if strings.HasPrefix(line, "\\") && needsEscape(line) {
		return line[1:]
	}
	return line
}

// parseSections splits the document on `## ` headings. Body text before
// the first heading (the title and export timestamp) is ignored, as are
// the trailing `- created:` / `- updated:` metadata lines of each section.
func parseSections(r io.Reader) ([]section, error) {
	var sections []section
	var cur *section
	var body []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.content = strings.TrimSpace(strings.Join(body, "\n"))
		sections = append(sections, *cur)
		cur = nil
		body = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "## "):
			flush()
			cur = &section{key: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
		case cur != nil:
			if strings.HasPrefix(line, "- created:") || strings.HasPrefix(line, "- updated:") {
				continue
			}
			body = append(body, unescapeLine(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	flush()
	return sections, nil
}
