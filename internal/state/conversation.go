// internal/state/conversation.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/agentloop/internal/types"
)

// ConversationIndex is a JSON-file-backed index mapping front-end keys to
// conversation ids. It lives in conversations/conversations.json.
type ConversationIndex struct {
	root string
	mu   sync.RWMutex
}

// NewConversationIndex creates a new index rooted at the given directory.
func NewConversationIndex(root string) *ConversationIndex {
	return &ConversationIndex{root: root}
}

func (s *ConversationIndex) indexPath() string {
	return filepath.Join(s.root, "conversations", "conversations.json")
}

// loadIndex reads conversations.json and returns a map keyed by key.
func (s *ConversationIndex) loadIndex() (map[types.ConversationKey]*types.Conversation, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ConversationKey]*types.Conversation), nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var convs []*types.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}

	index := make(map[types.ConversationKey]*types.Conversation, len(convs))
	for _, c := range convs {
		index[c.Key] = c
	}
	return index, nil
}

func sortedConversations(index map[types.ConversationKey]*types.Conversation) []*types.Conversation {
	convs := make([]*types.Conversation, 0, len(index))
	for _, c := range index {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	return convs
}

// saveIndex marshals with indentation and writes atomically.
func (s *ConversationIndex) saveIndex(index map[types.ConversationKey]*types.Conversation) error {
	data, err := json.MarshalIndent(sortedConversations(index), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.indexPath()), 0o755); err != nil {
		return fmt.Errorf("create conversations dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// ResolveOrCreate returns the id for key, creating a conversation if needed.
func (s *ConversationIndex) ResolveOrCreate(_ context.Context, key types.ConversationKey) (types.ConversationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}

	if existing, ok := index[key]; ok {
		return existing.ID, nil
	}

	now := time.Now()
	conv := &types.Conversation{
		ID:        types.NewConversationID(),
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	index[key] = conv

	if err := s.saveIndex(index); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Get returns the conversation with the given id.
func (s *ConversationIndex) Get(_ context.Context, id types.ConversationID) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	for _, c := range index {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
}

// List returns all conversations, oldest first.
func (s *ConversationIndex) List(_ context.Context) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return sortedConversations(index), nil
}

// Update persists changes to conv, setting UpdatedAt to now.
func (s *ConversationIndex) Update(_ context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[conv.Key]; !ok {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conv.Key)
	}

	conv.UpdatedAt = time.Now()
	index[conv.Key] = conv

	return s.saveIndex(index)
}
