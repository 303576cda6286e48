package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/model"
)

// BridgeStore layers an external semantic-search process over a local
// indexed store. The local store is always the source of truth; the
// external process only contributes extra recall candidates and receives
// best-effort copies of writes. Any failure of the external process puts
// the bridge into a cooldown during which it behaves exactly like the
// local store.
type BridgeStore struct {
	local   *SQLiteStore
	command string
	logger  *zap.Logger

	tokenBudget     int
	recallTimeout   time.Duration
	storeTimeout    time.Duration
	failureCooldown time.Duration
	minLocalHits    int

	now func() time.Time // injectable for tests

	mu            sync.Mutex
	cooldownUntil time.Time
}

// BridgeOptions configures the bridge.
type BridgeOptions struct {
	// Local is the underlying indexed store. Required.
	Local *SQLiteStore
	// Command is the external search executable. Required.
	Command string
	// TokenBudget caps how much content the external process is asked to
	// return. Defaults to 2048.
	TokenBudget int
	// RecallTimeout bounds external recall calls. Defaults to 500ms.
	RecallTimeout time.Duration
	// StoreTimeout bounds external store calls. Defaults to 800ms.
	StoreTimeout time.Duration
	// FailureCooldown is how long the external process is skipped after a
	// failure. Defaults to 15s.
	FailureCooldown time.Duration
	// MinLocalHits skips the external call entirely when the local store
	// already returned at least this many results. Defaults to 3.
	MinLocalHits int
	Logger       *zap.Logger
}

// bridgeResult is one hit on the external process's stdout, a JSON array
// of these objects.
type bridgeResult struct {
	ID        string  `json:"id"`
	Key       string  `json:"key"`
	Content   string  `json:"content"`
	Category  string  `json:"category"`
	SessionID string  `json:"session_id"`
	Score     float64 `json:"score"`
}

// NewBridgeStore wraps the local store. It does not check the external
// command up front; the first failing call starts the cooldown.
func NewBridgeStore(opts BridgeOptions) (*BridgeStore, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("bridge requires a local store")
	}
	if strings.TrimSpace(opts.Command) == "" {
		return nil, &model.ValidationError{Field: "command", Reason: "bridge command must be set"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &BridgeStore{
		local:           opts.Local,
		command:         opts.Command,
		logger:          logger,
		tokenBudget:     opts.TokenBudget,
		recallTimeout:   opts.RecallTimeout,
		storeTimeout:    opts.StoreTimeout,
		failureCooldown: opts.FailureCooldown,
		minLocalHits:    opts.MinLocalHits,
		now:             time.Now,
	}
	if b.tokenBudget <= 0 {
		b.tokenBudget = 2048
	}
	if b.recallTimeout <= 0 {
		b.recallTimeout = 500 * time.Millisecond
	}
	if b.storeTimeout <= 0 {
		b.storeTimeout = 800 * time.Millisecond
	}
	if b.failureCooldown <= 0 {
		b.failureCooldown = 15 * time.Second
	}
	if b.minLocalHits <= 0 {
		b.minLocalHits = 3
	}
	return b, nil
}

func (b *BridgeStore) coolingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.cooldownUntil)
}

func (b *BridgeStore) enterCooldown(reason string, err error) {
	b.mu.Lock()
	b.cooldownUntil = b.now().Add(b.failureCooldown)
	until := b.cooldownUntil
	b.mu.Unlock()
	b.logger.Warn("bridge entering cooldown",
		zap.String("reason", reason),
		zap.Time("until", until),
		zap.Error(err))
}

func (b *BridgeStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	entry, err := b.local.Put(ctx, p)
	if err != nil {
		return nil, err
	}
	if !b.coolingDown() {
		if err := b.externalStore(ctx, entry); err != nil {
			b.enterCooldown("store", err)
		}
	}
	return entry, nil
}

func (b *BridgeStore) Recall(ctx context.Context, p RecallParams) ([]model.Entry, error) {
	local, err := b.local.Recall(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(local) >= b.minLocalHits || b.coolingDown() {
		return local, nil
	}

	external, err := b.externalRecall(ctx, p)
	if err != nil {
		b.enterCooldown("recall", err)
		return local, nil
	}
	return mergeResults(local, external, p.Limit), nil
}

// externalRecall runs the bridge command with a bounded deadline and parses
// the JSON hit array it prints on stdout.
func (b *BridgeStore) externalRecall(ctx context.Context, p RecallParams) ([]model.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.recallTimeout)
	defer cancel()

	args := []string{
		"search",
		"--request-id", uuid.NewString(),
		"--budget", strconv.Itoa(b.tokenBudget),
		"--query", p.Query,
	}
	if p.SessionID != "" {
		args = append(args, "--session", p.SessionID)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("bridge search: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	var results []bridgeResult
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		return nil, fmt.Errorf("bridge search output: %w", err)
	}

	entries := make([]model.Entry, 0, len(results))
	for _, r := range results {
		if r.ID == "" || r.Key == "" {
			continue
		}
		entries = append(entries, model.Entry{
			ID:        r.ID,
			Key:       r.Key,
			Content:   r.Content,
			Category:  model.Category(r.Category),
			SessionID: r.SessionID,
			Score:     clampScore(r.Score),
		})
	}
	return entries, nil
}

// externalStore sends the entry as JSON on the bridge command's stdin.
func (b *BridgeStore) externalStore(ctx context.Context, entry *model.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode bridge entry: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.command, "store", "--request-id", uuid.NewString())
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("bridge store: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// mergeResults combines local and external hits, deduplicating by id and
// keeping the higher score for duplicates. Local entries win ties.
func mergeResults(local, external []model.Entry, limit int) []model.Entry {
	if limit <= 0 {
		limit = 10
	}
	byID := make(map[string]model.Entry, len(local)+len(external))
	for _, e := range local {
		byID[e.ID] = e
	}
	for _, e := range external {
		if have, ok := byID[e.ID]; ok && have.Score >= e.Score {
			continue
		}
		byID[e.ID] = e
	}

	merged := make([]model.Entry, 0, len(byID))
	for _, e := range byID {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (b *BridgeStore) Get(ctx context.Context, key string) (*model.Entry, bool, error) {
	return b.local.Get(ctx, key)
}

func (b *BridgeStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	return b.local.List(ctx, p)
}

func (b *BridgeStore) Forget(ctx context.Context, key string) (bool, error) {
	return b.local.Forget(ctx, key)
}

func (b *BridgeStore) Count(ctx context.Context) (int, error) {
	return b.local.Count(ctx)
}

func (b *BridgeStore) HealthCheck(ctx context.Context) bool {
	return b.local.HealthCheck(ctx)
}

func (b *BridgeStore) Close() error {
	return b.local.Close()
}

// PruneConversations delegates to the local store; the external index is
// advisory and rebuilt by its own process.
func (b *BridgeStore) PruneConversations(ctx context.Context, olderThan time.Time) (int, error) {
	return b.local.PruneConversations(ctx, olderThan)
}
