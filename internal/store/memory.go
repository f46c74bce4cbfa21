// In-memory Store implementation.
// Used for local development and tests. Supports file-based snapshot
// persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Tasks         map[string][]*models.Task            `json:"tasks"`         // key: owner_id, creation order
	Conversations map[string]*models.Conversation      `json:"conversations"` // key: id
	Messages      map[string][]*models.Message         `json:"messages"`      // key: conversation_id, append order
	States        map[string]*models.ConversationState `json:"states"`        // key: conversation_id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	tasks         map[string][]*models.Task // key: owner_id, slice in creation order
	taskIndex     map[string]*models.Task   // key: task id → entry in tasks
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // key: conversation_id, append order
	states        map[string]*models.ConversationState

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
}

// NewMemoryStore creates a new in-memory store.
// If TASKNEST_DATA_DIR is set, data is persisted to a JSON file in that
// directory; otherwise the store is purely in-memory.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		tasks:         make(map[string][]*models.Task),
		taskIndex:     make(map[string]*models.Task),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		states:        make(map[string]*models.ConversationState),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if dataDir := os.Getenv("TASKNEST_DATA_DIR"); dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Tasks:         m.tasks,
		Conversations: m.conversations,
		Messages:      m.messages,
		States:        m.states,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.States != nil {
		m.states = snap.States
	}

	// Rebuild the task id index from the per-owner slices
	m.taskIndex = make(map[string]*models.Task)
	for _, owned := range m.tasks {
		for _, t := range owned {
			m.taskIndex[t.ID] = t
		}
	}

	log.Info().
		Int("tasks", len(m.taskIndex)).
		Int("conversations", len(m.conversations)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the save goroutine and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		// Already closed
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

// ── Task Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	copy := *task
	syncCompletion(&copy)
	m.tasks[copy.OwnerID] = append(m.tasks[copy.OwnerID], &copy)
	m.taskIndex[copy.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, ownerID string, filter StatusFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Task, 0, len(m.tasks[ownerID]))
	for _, t := range m.tasks[ownerID] {
		if !matchesFilter(t, filter) {
			continue
		}
		result = append(result, *t)
	}
	return result, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.taskIndex[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	copy := *t
	return &copy, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, id string, upd models.TaskUpdate) (*models.Task, error) {
	m.mu.Lock()
	t, ok := m.taskIndex[id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	applyUpdate(t, upd)
	copy := *t
	m.mu.Unlock()
	m.requestSave()
	return &copy, nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.taskIndex[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "task", Key: id}
	}
	delete(m.taskIndex, id)
	owned := m.tasks[t.OwnerID]
	for i, candidate := range owned {
		if candidate.ID == id {
			m.tasks[t.OwnerID] = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) SetTaskCompleted(_ context.Context, id string, completed bool) (*models.Task, error) {
	m.mu.Lock()
	t, ok := m.taskIndex[id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	if completed {
		t.Status = models.TaskStatusCompleted
	} else {
		t.Status = models.TaskStatusPending
	}
	syncCompletion(t)
	t.UpdatedAt = time.Now().UTC()
	copy := *t
	m.mu.Unlock()
	m.requestSave()
	return &copy, nil
}

// syncCompletion keeps the legacy boolean in lockstep with the canonical
// status enum. Every task write path goes through here.
func syncCompletion(t *models.Task) {
	t.Completed = t.Status == models.TaskStatusCompleted
}

func matchesFilter(t *models.Task, filter StatusFilter) bool {
	switch filter {
	case FilterCompleted:
		return t.Status == models.TaskStatusCompleted
	case FilterPending:
		return t.Status == models.TaskStatusPending
	default:
		return true
	}
}

func applyUpdate(t *models.Task, upd models.TaskUpdate) {
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Completed != nil {
		if *upd.Completed {
			t.Status = models.TaskStatusCompleted
		} else {
			t.Status = models.TaskStatusPending
		}
	}
	if upd.DueDate != nil {
		t.DueDate = upd.DueDate
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	syncCompletion(t)
	t.UpdatedAt = time.Now().UTC()
}

// ── Conversation Store ──────────────────────────────────────

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	copy := *conv
	m.conversations[copy.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	copy := *c
	return &copy, nil
}

func (m *MemoryStore) ListConversations(_ context.Context, ownerID string, activeOnly bool) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Conversation, 0)
	for _, c := range m.conversations {
		if c.OwnerID != ownerID {
			continue
		}
		if activeOnly && !c.IsActive {
			continue
		}
		result = append(result, *c)
	}
	// Most recently touched first
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *MemoryStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	if _, ok := m.conversations[conv.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: conv.ID}
	}
	copy := *conv
	m.conversations[conv.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeactivateConversation(_ context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	c.IsActive = false
	c.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) PurgeInactiveConversations(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	purged := 0
	for id, c := range m.conversations {
		if c.IsActive || !c.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.conversations, id)
		delete(m.messages, id)
		delete(m.states, id)
		purged++
	}
	m.mu.Unlock()
	if purged > 0 {
		m.requestSave()
	}
	return purged, nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	copy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &copy)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int, order MessageOrder) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	result := make([]models.Message, len(stored))
	for i, msg := range stored {
		result[i] = *msg
	}
	// Append order tracks timestamp order, but sort anyway so reloaded
	// snapshots and equal timestamps stay deterministic.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	if order == OrderDesc {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ── Conversation State Store ────────────────────────────────

func (m *MemoryStore) GetConversationState(_ context.Context, conversationID string) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[conversationID]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation state", Key: conversationID}
	}
	copy := *s
	copy.State = cloneStateMap(s.State)
	return &copy, nil
}

func (m *MemoryStore) PutConversationState(_ context.Context, state *models.ConversationState) error {
	m.mu.Lock()
	existing, ok := m.states[state.ConversationID]
	if ok && existing.Version != state.Version {
		m.mu.Unlock()
		return &ErrVersionConflict{
			ConversationID: state.ConversationID,
			Expected:       state.Version,
			Actual:         existing.Version,
		}
	}
	copy := *state
	copy.State = cloneStateMap(state.State)
	copy.Version = state.Version + 1
	m.states[state.ConversationID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// cloneStateMap deep-copies a state map so callers never alias the stored
// record. A rejected stale Put must leave the stored state untouched.
func cloneStateMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneStateValue(v)
	}
	return out
}

func cloneStateValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneStateMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneStateValue(e)
		}
		return out
	default:
		return v
	}
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
