// internal/state/file.go
package state

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
)

// maxLineBytes bounds one JSONL record; inline attachments make lines long.
const maxLineBytes = 64 << 20

// FileStore keeps one JSONL history per conversation in
// conversations/<id>/history.jsonl.
type FileStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.ConversationID]*sync.Mutex
}

// NewFileStore creates a new file-backed store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{
		root:  root,
		locks: make(map[types.ConversationID]*sync.Mutex),
	}
}

// getLock returns the per-conversation mutex, creating one if it doesn't exist.
func (s *FileStore) getLock(id types.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *FileStore) historyPath(id types.ConversationID) string {
	return filepath.Join(s.root, "conversations", string(id), "history.jsonl")
}

// History returns the history of one conversation.
func (s *FileStore) History(id types.ConversationID) types.HistoryStore {
	return s.Open(id)
}

// Open is History with the concrete type.
func (s *FileStore) Open(id types.ConversationID) *FileHistory {
	return &FileHistory{store: s, id: id}
}

// FileHistory is an append-only JSONL history. Rewrites replace the file
// atomically.
type FileHistory struct {
	store *FileStore
	id    types.ConversationID
}

func (h *FileHistory) path() string { return h.store.historyPath(h.id) }

// read loads every event. Caller must hold the conversation lock.
func (h *FileHistory) read() ([]history.Event, error) {
	f, err := os.Open(h.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var events []history.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		e, err := history.Unmarshal(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("decode history line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history file: %w", err)
	}
	return events, nil
}

// GetHistory returns all events in append order.
func (h *FileHistory) GetHistory(_ context.Context) ([]history.Event, error) {
	lock := h.store.getLock(h.id)
	lock.Lock()
	defer lock.Unlock()

	return h.read()
}

// OutputEvent appends one event.
func (h *FileHistory) OutputEvent(_ context.Context, event history.Event) error {
	data, err := history.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	lock := h.store.getLock(h.id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path()), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	f, err := os.OpenFile(h.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// RewriteHistory replaces events by id and swaps the file in atomically.
func (h *FileHistory) RewriteHistory(_ context.Context, replacements map[string]history.Event) error {
	if len(replacements) == 0 {
		return nil
	}

	lock := h.store.getLock(h.id)
	lock.Lock()
	defer lock.Unlock()

	events, err := h.read()
	if err != nil {
		return err
	}
	events = history.Replace(events, replacements)

	var buf bytes.Buffer
	for _, e := range events {
		data, err := history.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(h.path()), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := h.path() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := os.Rename(tmp, h.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp history: %w", err)
	}
	return nil
}
