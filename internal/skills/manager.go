package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentcore/engine/pkg/models"
)

// Registry loads a directory of <name>/SKILL.md files into a matchable,
// hot-reloaded set, reduced to a single local directory rather than the
// multi-source (local/git/registry) discovery a fuller gateway might need.
type Registry struct {
	dir         string
	sidecarPath string
	embed       EmbedFunc
	logger      *slog.Logger

	mu      sync.RWMutex
	skills  map[string]*models.Skill
	vectors map[string][]float32

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	debounce    time.Duration
}

// NewRegistry creates a registry rooted at dir, persisting disabled-skill
// overrides at sidecarPath. embed may be nil, in which case Match falls
// back to token overlap for skills without a trigger match.
func NewRegistry(dir, sidecarPath string, embed EmbedFunc) *Registry {
	return &Registry{
		dir:         dir,
		sidecarPath: sidecarPath,
		embed:       embed,
		logger:      slog.Default().With("component", "skills"),
		skills:      make(map[string]*models.Skill),
		vectors:     make(map[string][]float32),
		debounce:    300 * time.Millisecond,
	}
}

// sidecar is the on-disk shape for persisted enabled/disabled overrides:
// only disabled ids are stored, so a freshly-installed skill defaults to
// enabled without needing an entry.
type sidecar struct {
	Disabled []string `json:"disabled"`
}

// Discover performs a full directory scan, replacing the in-memory skill
// set. Safe to call repeatedly; each call re-applies sidecar overrides and
// recomputes embeddings so external edits to SKILL.md files are picked up.
func (r *Registry) Discover(ctx context.Context) error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		r.logger.Debug("skills directory does not exist", "path", r.dir)
		r.mu.Lock()
		r.skills = make(map[string]*models.Skill)
		r.vectors = make(map[string][]float32)
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("skills: stat %s: %w", r.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("skills: not a directory: %s", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("skills: read %s: %w", r.dir, err)
	}

	disabled, err := r.loadSidecar()
	if err != nil {
		r.logger.Warn("failed to load skill sidecar", "error", err)
		disabled = map[string]bool{}
	}

	found := make(map[string]*models.Skill)
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !entry.IsDir() {
			continue
		}
		skillFile := filepath.Join(r.dir, entry.Name(), SkillFilename)
		if _, err := os.Stat(skillFile); err != nil {
			continue
		}
		skill, err := ParseFile(skillFile)
		if err != nil {
			r.logger.Warn("failed to parse skill", "path", skillFile, "error", err)
			continue
		}
		if disabled[skill.ID] {
			skill.Enabled = false
		}
		found[skill.ID] = skill
	}

	r.mu.Lock()
	old := r.skills
	r.skills = found
	for id := range r.vectors {
		if _, ok := found[id]; !ok {
			delete(r.vectors, id)
		}
	}
	r.mu.Unlock()

	if r.embed != nil {
		r.refreshVectors(found, old)
	}

	r.logger.Info("discovered skills", "count", len(found), "path", r.dir)
	return nil
}

// refreshVectors (re)computes embeddings for skills that are new or whose
// name/description changed since the last discovery.
func (r *Registry) refreshVectors(found, old map[string]*models.Skill) {
	var ids []string
	var texts []string
	for id, skill := range found {
		prev, existed := old[id]
		if existed && prev.Name == skill.Name && prev.Description == skill.Description {
			continue
		}
		ids = append(ids, id)
		texts = append(texts, skill.Name+": "+skill.Description)
	}
	if len(texts) == 0 {
		return
	}
	vecs, err := r.embed(texts)
	if err != nil {
		r.logger.Warn("failed to embed skills", "error", err)
		return
	}
	r.mu.Lock()
	for i, id := range ids {
		if i < len(vecs) {
			r.vectors[id] = vecs[i]
		}
	}
	r.mu.Unlock()
}

func (r *Registry) loadSidecar() (map[string]bool, error) {
	disabled := map[string]bool{}
	if r.sidecarPath == "" {
		return disabled, nil
	}
	data, err := os.ReadFile(r.sidecarPath)
	if os.IsNotExist(err) {
		return disabled, nil
	}
	if err != nil {
		return nil, err
	}
	var s sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	for _, id := range s.Disabled {
		disabled[id] = true
	}
	return disabled, nil
}

func (r *Registry) saveSidecar() error {
	if r.sidecarPath == "" {
		return nil
	}
	r.mu.RLock()
	var disabled []string
	for id, skill := range r.skills {
		if !skill.Enabled {
			disabled = append(disabled, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(disabled)

	data, err := json.MarshalIndent(sidecar{Disabled: disabled}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.sidecarPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.sidecarPath, data, 0o644)
}

// List returns a snapshot of every known skill, sorted by id.
func (r *Registry) List() []models.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the skill with the given id.
func (r *Registry) Get(id string) (*models.Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// SetEnabled toggles a skill's enabled flag and persists the change to the
// sidecar (only disabled ids are ever written).
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	s, ok := r.skills[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("skills: unknown skill %q", id)
	}
	s.Enabled = enabled
	r.mu.Unlock()
	return r.saveSidecar()
}

// Match ranks enabled, eligible skills against input, taking a consistent
// snapshot of the skill map before scoring so the watcher's concurrent
// mutation never produces a torn read.
func (r *Registry) Match(input string, inputEmbedding []float32) []models.SkillMatch {
	r.mu.RLock()
	snapshot := make([]*models.Skill, 0, len(r.skills))
	for _, s := range r.skills {
		if !eligible(s) {
			continue
		}
		cp := *s
		snapshot = append(snapshot, &cp)
	}
	vectors := make(map[string][]float32, len(r.vectors))
	for id, v := range r.vectors {
		vectors[id] = v
	}
	r.mu.RUnlock()

	return Match(input, snapshot, vectors, inputEmbedding)
}

// eligible reports whether a skill's optional requires block is satisfied:
// every named binary resolves on PATH and every named environment variable
// is set. A skill with no requires block is always eligible.
func eligible(s *models.Skill) bool {
	if s.Requires == nil {
		return true
	}
	for _, bin := range s.Requires.Bins {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	for _, env := range s.Requires.Env {
		if _, ok := os.LookupEnv(env); !ok {
			return false
		}
	}
	return true
}

// StartWatching watches the skills directory, each of its immediate
// subdirectories, and any directory created later, for file changes, and
// debounces them into a single rediscovery via time.AfterFunc. Deeper
// subdirectories present at start are not watched.
func (r *Registry) StartWatching(ctx context.Context) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return fmt.Errorf("skills: create watcher: %w", err)
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	r.watchMu.Unlock()

	if err := r.addWatchPaths(); err != nil {
		r.logger.Warn("initial skill watch setup failed", "error", err)
	}

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx)
	return nil
}

func (r *Registry) addWatchPaths() error {
	if err := r.watcher.Add(r.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = r.watcher.Add(filepath.Join(r.dir, entry.Name()))
		}
	}
	return nil
}

func (r *Registry) watchLoop(ctx context.Context) {
	defer r.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRefresh := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(r.debounce, func() {
			if err := r.Discover(context.Background()); err != nil {
				r.logger.Warn("skill discovery failed during watch refresh", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = r.watcher.Add(event.Name)
					}
				}
				scheduleRefresh()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("skill watch error", "error", err)
		}
	}
}

// Close stops the directory watcher, if running.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}
