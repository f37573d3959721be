// Package session keeps the client's ordered list of conversations and the
// selection pointer, persisting the whole list on every committed mutation.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/kv"
	"chatrelay/pkg/domain"
)

const (
	// DefaultTitle labels a conversation until its first exchange completes.
	DefaultTitle = "New Chat"
	// StorageKey is the key the serialized list is saved under.
	StorageKey = "chats"
	// SelectionKey holds the id of the selected conversation.
	SelectionKey = "selectedChat"

	titleBudget    = 30
	titleEllipsis  = "..."
	persistTimeout = 3 * time.Second
)

// Options tune a Store. Zero values select production defaults.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
	// RestoreAll keeps every stored conversation on Open instead of only the
	// first one.
	RestoreAll bool
}

// Store owns the conversation list. All methods are safe for concurrent use
// and return copies, never references into internal state.
type Store struct {
	mu       sync.RWMutex
	kv       kv.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	chats    []domain.Conversation
	selected string
	all      bool
	// committed holds the message count of conversations with an open
	// streaming update, recorded before the first UpdateStreaming call.
	committed map[string]int
}

// Open restores the stored list. Unless RestoreAll is set only the first
// stored conversation is kept. The stored selection is applied when it names a
// restored conversation, otherwise the first one is selected. A missing or
// unreadable list yields one fresh conversation. Load failures are logged and
// never returned.
func Open(ctx context.Context, store kv.Store, opts Options) *Store {
	s := &Store{
		kv:        store,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		all:       opts.RestoreAll,
		committed: make(map[string]int),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if restored := s.load(ctx); len(restored) > 0 {
		s.chats = restored
		s.selected = restored[0].ID
		if id := s.loadSelection(ctx); s.indexLocked(id) >= 0 {
			s.selected = id
		}
		s.persistLocked()
		return s
	}
	s.createLocked()
	return s
}

func (s *Store) loadSelection(ctx context.Context) string {
	raw, ok, err := s.kv.Load(ctx, SelectionKey)
	if err != nil {
		s.logger.Warn("load selection failed", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (s *Store) load(ctx context.Context) []domain.Conversation {
	if s.kv == nil {
		return nil
	}
	raw, ok, err := s.kv.Load(ctx, StorageKey)
	if err != nil {
		s.logger.Warn("load conversations failed", "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	var stored []domain.Conversation
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn("parse stored conversations failed", "err", err)
		return nil
	}
	seen := make(map[string]bool, len(stored))
	out := make([]domain.Conversation, 0, len(stored))
	for _, conv := range stored {
		if conv.ID == "" || seen[conv.ID] {
			continue
		}
		seen[conv.ID] = true
		if conv.Messages == nil {
			conv.Messages = []domain.Message{}
		}
		if conv.Title == "" {
			conv.Title = DefaultTitle
		}
		out = append(out, conv)
		if !s.all {
			break
		}
	}
	return out
}

// Create appends a fresh conversation and selects it.
func (s *Store) Create() domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked().Clone()
}

func (s *Store) createLocked() domain.Conversation {
	conv := domain.Conversation{
		ID:        s.uniqueIDLocked(),
		Title:     DefaultTitle,
		CreatedAt: s.now().UTC(),
		Messages:  []domain.Message{},
	}
	s.chats = append(s.chats, conv)
	s.selected = conv.ID
	s.persistLocked()
	s.saveSelectionLocked()
	return conv
}

func (s *Store) uniqueIDLocked() string {
	for {
		id := s.newID()
		if id != "" && s.indexLocked(id) < 0 {
			return id
		}
	}
}

// Select makes id the selection. It reports false, changing nothing, when id
// is unknown.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return false
	}
	if s.selected != id {
		s.selected = id
		s.saveSelectionLocked()
	}
	return true
}

// Delete removes id. When the selection is removed the first remaining
// conversation is selected, or a new one is created when none remain.
// Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return
	}
	s.chats = append(s.chats[:idx], s.chats[idx+1:]...)
	delete(s.committed, id)
	if s.selected == id {
		if len(s.chats) == 0 {
			s.createLocked()
			return
		}
		s.selected = s.chats[0].ID
		s.saveSelectionLocked()
	}
	s.persistLocked()
}

// ReplaceMessages overwrites the message list of id. The first time a
// conversation grows from fewer than two messages to at least two, its title
// is derived from the first message. It reports false when id is unknown.
func (s *Store) ReplaceMessages(id string, messages []domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	conv := &s.chats[idx]
	prev := len(conv.Messages)
	if n, ok := s.committed[id]; ok {
		prev = n
		delete(s.committed, id)
	}
	conv.Messages = make([]domain.Message, len(messages))
	copy(conv.Messages, messages)

	if !conv.TitleDerived && prev < 2 && len(messages) >= 2 {
		if title := DeriveTitle(messages[0].Content); title != "" {
			conv.Title = title
			conv.TitleDerived = true
		}
	}
	s.persistLocked()
	return true
}

// UpdateStreaming overwrites the message list of id in memory only. Titles are
// not derived and nothing is saved until the next ReplaceMessages, which
// compares against the list as it was before streaming began.
func (s *Store) UpdateStreaming(id string, messages []domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	conv := &s.chats[idx]
	if _, ok := s.committed[id]; !ok {
		s.committed[id] = len(conv.Messages)
	}
	conv.Messages = make([]domain.Message, len(messages))
	copy(conv.Messages, messages)
	return true
}

// Rename overwrites the title of id and stops automatic derivation for it.
func (s *Store) Rename(id, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	s.chats[idx].Title = title
	s.chats[idx].TitleDerived = true
	s.persistLocked()
	return true
}

// Current returns the selected conversation.
func (s *Store) Current() (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(s.selected)
	if idx < 0 {
		return domain.Conversation{}, false
	}
	return s.chats[idx].Clone(), true
}

// Selected returns the selected id.
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Get returns the conversation with id.
func (s *Store) Get(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Conversation{}, false
	}
	return s.chats[idx].Clone(), true
}

// List returns conversations in store order.
func (s *Store) List() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.chats))
	for _, conv := range s.chats {
		out = append(out, conv.Clone())
	}
	return out
}

// ListNewestFirst returns conversations ordered by creation time, newest
// first.
func (s *Store) ListNewestFirst() []domain.Conversation {
	out := s.List()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.chats {
		if s.chats[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked() {
	if s.kv == nil || len(s.chats) == 0 {
		return
	}
	data, err := json.Marshal(s.chats)
	if err != nil {
		s.logger.Error("encode conversations failed", "err", err)
		return
	}
	s.save(StorageKey, data)
}

func (s *Store) saveSelectionLocked() {
	if s.kv == nil || s.selected == "" {
		return
	}
	s.save(SelectionKey, []byte(s.selected))
}

func (s *Store) save(key string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Save(ctx, key, data); err != nil {
		s.logger.Error("save failed", "key", key, "err", err)
	}
}

// DeriveTitle truncates text to the title budget, appending an ellipsis when
// anything was cut. Blank text yields "".
func DeriveTitle(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= titleBudget {
		return text
	}
	return string(runes[:titleBudget]) + titleEllipsis
}
