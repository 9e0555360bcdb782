// Package session persists conversation context as append-only JSONL, one
// file per quiz episode. Resetting an episode archives its transcript rather
// than destroying it.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizora/quizora/internal/observability"
)

// Turn is a single ordered entry in an episode's conversation context.
type Turn struct {
	Role      string                 `json:"role"` // user, assistant, tool
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Manager owns episode transcript files under a sessions directory.
// Writes to the same episode are serialized with a per-key lock.
type Manager struct {
	sessionsDir string
	archiveDir  string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// New creates a Manager rooted at sessionsDir.
func New(sessionsDir string) (*Manager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".quizora", "sessions")
	}

	archiveDir := filepath.Join(sessionsDir, "archive")
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{
		sessionsDir: sessionsDir,
		archiveDir:  archiveDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")
	m.updateActiveMetric()

	return m, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("episode key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("episode key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("episode key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("episode key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.sessionsDir, key+".jsonl")
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, ok := m.writeLocks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[key] = lock
	return lock
}

// Append adds one turn to the episode transcript.
func (m *Manager) Append(ctx context.Context, key string, turn Turn) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(m.path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	return nil
}

// Load returns the ordered turns of an episode. A missing file is an empty
// transcript, not an error.
func (m *Manager) Load(ctx context.Context, key string) ([]Turn, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(m.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			log.Warn().Str("key", key).Int("line", lineNo).Err(err).Msg("Skipping corrupt transcript line")
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	return turns, nil
}

// Reset archives the episode transcript and starts fresh. The transcript is
// moved into the archive directory with a timestamp suffix; it is never
// destroyed. Resetting a missing episode is a no-op.
func (m *Manager) Reset(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	src := m.path(key)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	dst := filepath.Join(m.archiveDir, fmt.Sprintf("%s.%s.jsonl", key, time.Now().Format("20060102T150405.000")))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	log.Debug().Str("key", key).Str("archive", dst).Msg("Session archived")
	m.updateActiveMetric()
	return nil
}

// List returns the keys of live (non-archived) episodes.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	return keys, nil
}

// LastModified returns the transcript's modification time.
func (m *Manager) LastModified(key string) (time.Time, error) {
	if err := validateKey(key); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(m.path(key))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (m *Manager) updateActiveMetric() {
	keys, err := m.List()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(keys))
}
