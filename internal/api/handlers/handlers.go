// Package handlers implements the HTTP handlers for the TaskNest backend:
// the chat endpoint driving the assistant, conversation history, and plain
// task CRUD for non-conversational clients.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/internal/api/middleware"
	"github.com/tasknest/tasknest/internal/chat"
	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store        store.Store
	Orchestrator *chat.Orchestrator
	Version      string
}

// New creates a new Handlers instance.
func New(s store.Store, orchestrator *chat.Orchestrator, version string) *Handlers {
	return &Handlers{
		Store:        s,
		Orchestrator: orchestrator,
		Version:      version,
	}
}

// ── Health & Version ─────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("Store ping failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"status": status})
}

func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.Version})
}

// ── Chat Handlers ────────────────────────────────────────────

func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && req.ConfirmAction == nil {
		respondError(w, http.StatusBadRequest, "Message is required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	resp, err := h.Orchestrator.HandleTurn(r.Context(), userID, req)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	activeOnly := r.URL.Query().Get("active_only") == "true"

	convs, err := h.Store.ListConversations(r.Context(), userID, activeOnly)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	page, limit := pagination(r, 1, 20)
	start := (page - 1) * limit
	if start > len(convs) {
		start = len(convs)
	}
	end := start + limit
	if end > len(convs) {
		end = len(convs)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs[start:end],
		"total":         len(convs),
		"page":          page,
		"limit":         limit,
	})
}

func (h *Handlers) ListConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, ok := h.ownedConversation(w, r, conversationID)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	// Fetch the most recent N, then flip to ascending for display.
	msgs, err := h.Store.ListMessages(r.Context(), conv.ID, limit, store.OrderDesc)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conv.ID,
		"messages":        msgs,
		"count":           len(msgs),
	})
}

func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, ok := h.ownedConversation(w, r, conversationID)
	if !ok {
		return
	}

	if err := h.Store.DeactivateConversation(r.Context(), conv.ID); err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().Str("conversation_id", conv.ID).Msg("Conversation deactivated")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Task Handlers ────────────────────────────────────────────

type taskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	DueDate     *string `json:"due_date"`
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	filter := store.FilterAll
	switch r.URL.Query().Get("status") {
	case "completed":
		filter = store.FilterCompleted
	case "pending":
		filter = store.FilterPending
	}

	tasks, err := h.Store.ListTasks(r.Context(), userID, filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if len(req.Title) > models.MaxTitleLength {
		respondError(w, http.StatusBadRequest, "Title is too long")
		return
	}

	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.TaskPriority(req.Priority)
		switch priority {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		default:
			respondError(w, http.StatusBadRequest, "Invalid priority")
			return
		}
	}

	var dueDate *time.Time
	if req.DueDate != nil && *req.DueDate != "" {
		parsed, err := time.Parse(time.RFC3339, *req.DueDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid due_date, expected RFC 3339")
			return
		}
		dueDate = &parsed
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		OwnerID:     middleware.GetUserID(r.Context()),
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatusPending,
		Priority:    priority,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Store.CreateTask(r.Context(), task); err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().Str("task_id", task.ID).Str("owner_id", task.OwnerID).Msg("Task created")
	respondJSON(w, http.StatusCreated, task)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	var upd models.TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if upd.Title != nil {
		trimmed := strings.TrimSpace(*upd.Title)
		if trimmed == "" || len(trimmed) > models.MaxTitleLength {
			respondError(w, http.StatusBadRequest, "Invalid title")
			return
		}
		upd.Title = &trimmed
	}
	if upd.Priority != nil {
		switch *upd.Priority {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		default:
			respondError(w, http.StatusBadRequest, "Invalid priority")
			return
		}
	}

	updated, err := h.Store.UpdateTask(r.Context(), task.ID, upd)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteTask(r.Context(), task.ID); err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().Str("task_id", task.ID).Msg("Task deleted")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	updated, err := h.Store.SetTaskCompleted(r.Context(), task.ID, true)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// ── Helpers ──────────────────────────────────────────────────

// ownedTask loads the {taskID} route param and enforces ownership. Foreign
// tasks read as 404 so ids can't be probed across users.
func (h *Handlers) ownedTask(w http.ResponseWriter, r *http.Request) (*models.Task, bool) {
	taskID := chi.URLParam(r, "taskID")
	task, err := h.Store.GetTask(r.Context(), taskID)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	if task.OwnerID != middleware.GetUserID(r.Context()) {
		respondError(w, http.StatusNotFound, "task not found: "+taskID)
		return nil, false
	}
	return task, true
}

func (h *Handlers) ownedConversation(w http.ResponseWriter, r *http.Request, conversationID string) (*models.Conversation, bool) {
	conv, err := h.Store.GetConversation(r.Context(), conversationID)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	if conv.OwnerID != middleware.GetUserID(r.Context()) {
		respondError(w, http.StatusForbidden, "not authorized for this conversation")
		return nil, false
	}
	return conv, true
}

func pagination(r *http.Request, defaultPage, defaultLimit int) (int, int) {
	page, limit := defaultPage, defaultLimit
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return page, limit
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case store.IsUnauthorized(err):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		log.Error().Err(err).Msg("Store operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
