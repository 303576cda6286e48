package store

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/model"
)

const (
	coreFileName  = "MEMORY.md"
	dailyDirName  = "memory"
	archiveSubdir = "archive"
	dayLayout     = "2006-01-02"
)

// FileStore keeps memories in plain markdown: core entries in one
// long-lived MEMORY.md, everything else in one file per calendar day under
// memory/, using `- key: content` bullet lines. Recall is a linear
// case-insensitive substring scan over every entry, so this backend only
// suits small collections.
type FileStore struct {
	dir      string
	autoSave bool
	logger   *zap.Logger

	mu        sync.RWMutex
	entries   map[string]*model.Entry // by key
	days      map[string]bool         // daily files currently on disk
	malformed int                     // parse failures seen during load

	idMu    sync.Mutex
	entropy *rand.Rand
}

// FileOptions configures the file store.
type FileOptions struct {
	// Dir is the root data directory. MEMORY.md and the memory/ daily
	// directory are created inside it.
	Dir string
	// AutoSave persists every mutation immediately. When false, changes
	// are flushed once on Close.
	AutoSave bool
	Logger   *zap.Logger
}

// NewFileStore opens the store at opts.Dir, loading any existing files.
// Malformed lines are skipped and counted, never fatal.
func NewFileStore(opts FileOptions) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(opts.Dir, dailyDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &FileStore{
		dir:      opts.Dir,
		autoSave: opts.AutoSave,
		logger:   logger,
		entries:  make(map[string]*model.Entry),
		days:     make(map[string]bool),
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *FileStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	if err := model.ValidateKeyContent(p.Key, p.Content); err != nil {
		return nil, err
	}
	category := p.Category
	if category == "" {
		category = model.CategoryConversation
	}
	now := time.Now().UTC()

	s.mu.Lock()
	entry, ok := s.entries[p.Key]
	if ok {
		entry.Content = p.Content
		entry.Category = category
		entry.SessionID = p.SessionID
		entry.UpdatedAt = now
	} else {
		entry = &model.Entry{
			ID:        s.newID(),
			Key:       p.Key,
			Content:   p.Content,
			Category:  category,
			SessionID: p.SessionID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.entries[p.Key] = entry
	}
	out := *entry
	s.mu.Unlock()

	if s.autoSave {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (s *FileStore) Recall(ctx context.Context, p RecallParams) ([]model.Entry, error) {
	query := strings.ToLower(strings.TrimSpace(p.Query))
	if query == "" {
		return []model.Entry{}, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	var matches []model.Entry
	for _, e := range s.entries {
		if p.SessionID != "" && e.SessionID != "" && e.SessionID != p.SessionID {
			continue
		}
		if strings.Contains(strings.ToLower(e.Key), query) ||
			strings.Contains(strings.ToLower(e.Content), query) {
			matches = append(matches, *e)
		}
	}
	s.mu.RUnlock()

	// Recency-ranked: newest first, score decays with position.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	for i := range matches {
		matches[i].Score = 1.0 / (1.0 + float64(i))
	}
	return matches, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (*model.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := *e
	return &out, true, nil
}

func (s *FileStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	s.mu.RLock()
	var entries []model.Entry
	for _, e := range s.entries {
		if p.Category != "" && e.Category != p.Category {
			continue
		}
		if p.SessionID != "" && e.SessionID != p.SessionID {
			continue
		}
		entries = append(entries, *e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries, nil
}

func (s *FileStore) Forget(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if ok && s.autoSave {
		if err := s.save(); err != nil {
			return true, err
		}
	}
	return ok, nil
}

func (s *FileStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *FileStore) HealthCheck(ctx context.Context) bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

func (s *FileStore) Close() error {
	if !s.autoSave {
		return s.save()
	}
	return nil
}

// MalformedCount reports how many lines failed to parse during load.
func (s *FileStore) MalformedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.malformed
}

// --- hygiene.Archiver ---

// ArchiveDailyFiles moves daily files dated before the cutoff into the
// archive directory. MEMORY.md (core entries) is never a candidate.
func (s *FileStore) ArchiveDailyFiles(olderThan time.Time) (int, error) {
	dailyDir := filepath.Join(s.dir, dailyDirName)
	archiveDir := filepath.Join(dailyDir, archiveSubdir)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	files, err := os.ReadDir(dailyDir)
	if err != nil {
		return 0, fmt.Errorf("read daily dir: %w", err)
	}

	cutoff := olderThan.UTC().Truncate(24 * time.Hour)
	archived := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		day, ok := dayFromFileName(f.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		src := filepath.Join(dailyDir, f.Name())
		dst := filepath.Join(archiveDir, f.Name())
		if err := os.Rename(src, dst); err != nil {
			return archived, fmt.Errorf("archive %s: %w", f.Name(), err)
		}
		archived++
		s.dropDay(day)
	}
	return archived, nil
}

// PurgeArchives deletes archived files dated before the cutoff.
func (s *FileStore) PurgeArchives(olderThan time.Time) (int, error) {
	archiveDir := filepath.Join(s.dir, dailyDirName, archiveSubdir)
	files, err := os.ReadDir(archiveDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read archive dir: %w", err)
	}

	cutoff := olderThan.UTC().Truncate(24 * time.Hour)
	purged := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		day, ok := dayFromFileName(f.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(archiveDir, f.Name())); err != nil {
			return purged, fmt.Errorf("purge %s: %w", f.Name(), err)
		}
		purged++
	}
	return purged, nil
}

// dropDay removes in-memory non-core entries belonging to an archived day.
func (s *FileStore) dropDay(day time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.days, day.Format(dayLayout))
	for key, e := range s.entries {
		if e.Category == model.CategoryCore {
			continue
		}
		if e.CreatedAt.UTC().Format(dayLayout) == day.Format(dayLayout) {
			delete(s.entries, key)
		}
	}
}

// --- persistence ---

func (s *FileStore) load() error {
	corePath := filepath.Join(s.dir, coreFileName)
	if info, err := os.Stat(corePath); err == nil {
		if err := s.loadFile(corePath, model.CategoryCore, info.ModTime().UTC()); err != nil {
			return err
		}
	}

	dailyDir := filepath.Join(s.dir, dailyDirName)
	files, err := os.ReadDir(dailyDir)
	if err != nil {
		return fmt.Errorf("read daily dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		day, ok := dayFromFileName(f.Name())
		if !ok {
			continue
		}
		if err := s.loadFile(filepath.Join(dailyDir, f.Name()), model.CategoryDaily, day); err != nil {
			return err
		}
		s.days[day.Format(dayLayout)] = true
	}
	return nil
}

func (s *FileStore) loadFile(path string, defaultCategory model.Category, ts time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "- ") {
			continue // headers and blank lines are not records
		}
		entry, err := parseBulletLine(line, defaultCategory)
		if err != nil {
			s.malformed++
			s.logger.Warn("skipping malformed memory line",
				zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		entry.ID = s.newID()
		entry.CreatedAt = ts
		entry.UpdatedAt = ts
		s.entries[entry.Key] = entry
	}
	return scanner.Err()
}

func (s *FileStore) save() error {
	// Snapshot entries by value while the lock is held; a concurrent Put
	// mutates the stored pointers, so no field may be read after unlock.
	s.mu.Lock()
	var core []model.Entry
	byDay := make(map[string][]model.Entry)
	for _, e := range s.entries {
		if e.Category == model.CategoryCore {
			core = append(core, *e)
			continue
		}
		day := e.CreatedAt.UTC().Format(dayLayout)
		byDay[day] = append(byDay[day], *e)
	}
	// Days that lost their last entry leave a stale file behind unless it
	// is removed; otherwise a forgotten entry comes back on the next load.
	var stale []string
	for day := range s.days {
		if _, ok := byDay[day]; !ok {
			stale = append(stale, day)
		}
	}
	s.days = make(map[string]bool, len(byDay))
	for day := range byDay {
		s.days[day] = true
	}
	s.mu.Unlock()

	sortByCreated(core)
	var b strings.Builder
	b.WriteString("# Core Memory\n\n")
	for i := range core {
		b.WriteString(formatBulletLine(core[i]))
	}
	if err := writeFileAtomic(filepath.Join(s.dir, coreFileName), b.String()); err != nil {
		return err
	}

	for day, entries := range byDay {
		sortByCreated(entries)
		var db strings.Builder
		fmt.Fprintf(&db, "# Memory Log %s\n\n", day)
		for i := range entries {
			db.WriteString(formatBulletLine(entries[i]))
		}
		path := filepath.Join(s.dir, dailyDirName, day+".md")
		if err := writeFileAtomic(path, db.String()); err != nil {
			return err
		}
	}

	for _, day := range stale {
		path := filepath.Join(s.dir, dailyDirName, day+".md")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove empty daily file %s: %w", day, err)
		}
	}
	return nil
}

func sortByCreated(entries []model.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func writeFileAtomic(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// formatBulletLine renders one entry as a bullet line. Core and daily
// entries use the bare `- key: content` form; other categories carry a
// bracket tag so the category (and session) survive the round trip.
func formatBulletLine(e model.Entry) string {
	content := escapeContent(e.Content)
	switch e.Category {
	case model.CategoryCore, model.CategoryDaily:
		return fmt.Sprintf("- %s: %s\n", e.Key, content)
	default:
		tag := string(e.Category)
		if e.SessionID != "" {
			tag += "@" + e.SessionID
		}
		return fmt.Sprintf("- [%s] %s: %s\n", tag, e.Key, content)
	}
}

func parseBulletLine(line string, defaultCategory model.Category) (*model.Entry, error) {
	rest := strings.TrimPrefix(line, "- ")

	category := defaultCategory
	sessionID := ""
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "] ")
		if end < 0 {
			return nil, fmt.Errorf("unterminated category tag: %q", line)
		}
		tag := rest[1:end]
		if at := strings.Index(tag, "@"); at >= 0 {
			sessionID = tag[at+1:]
			tag = tag[:at]
		}
		if tag == "" {
			return nil, fmt.Errorf("empty category tag: %q", line)
		}
		category = model.Category(tag)
		rest = rest[end+2:]
	}

	idx := strings.Index(rest, ": ")
	if idx <= 0 {
		return nil, fmt.Errorf("missing key separator: %q", line)
	}
	key := strings.TrimSpace(rest[:idx])
	content := unescapeContent(rest[idx+2:])
	if key == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty key or content: %q", line)
	}

	return &model.Entry{
		Key:       key,
		Content:   content,
		Category:  category,
		SessionID: sessionID,
	}, nil
}

// Multi-line content is stored escaped so the format stays line-oriented.
func escapeContent(content string) string {
	content = strings.ReplaceAll(content, `\`, `\\`)
	return strings.ReplaceAll(content, "\n", `\n`)
}

func unescapeContent(content string) string {
	var b strings.Builder
	for i := 0; i < len(content); i++ {
		if content[i] == '\\' && i+1 < len(content) {
			switch content[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(content[i])
	}
	return b.String()
}

func dayFromFileName(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".md")
	if base == name {
		return time.Time{}, false
	}
	day, err := time.Parse(dayLayout, base)
	if err != nil {
		return time.Time{}, false
	}
	return day.UTC(), true
}
