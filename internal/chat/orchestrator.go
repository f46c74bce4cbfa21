// Package chat drives one conversational turn end to end: load (or create)
// the conversation, record the user's message, resolve intent, execute at
// most one tool call, and persist the assistant's reply.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/internal/intent"
	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/internal/tools"
	"github.com/tasknest/tasknest/pkg/models"
)

// apologyReply is returned when intent resolution fails outright. The
// user's message is already persisted at that point, so the turn still
// succeeds from the transcript's point of view.
const apologyReply = "Sorry, I'm having trouble processing your request right now. Please try again."

// pendingKey is the ConversationState slot holding a destructive tool call
// that awaits the user's confirmation.
const pendingKey = "pending_confirmation"

// Bare affirmatives that replay a pending destructive call on the next turn.
var affirmatives = map[string]bool{
	"yes": true, "y": true, "yes please": true, "yeah": true, "yep": true,
	"confirm": true, "confirmed": true, "do it": true, "sure": true,
	"ok": true, "okay": true, "go ahead": true,
}

// Orchestrator wires the store, the tool registry, and an intent resolver
// into the per-turn pipeline. It holds no cross-turn state; everything a
// later turn needs lives in the store.
type Orchestrator struct {
	store    store.Store
	registry *tools.Registry
	resolver intent.Resolver
}

func NewOrchestrator(s store.Store, registry *tools.Registry, resolver intent.Resolver) *Orchestrator {
	return &Orchestrator{store: s, registry: registry, resolver: resolver}
}

// HandleTurn processes one chat request for the authenticated owner.
// A hard error is returned only when the conversation cannot be loaded
// (unknown id, or owned by someone else); everything downstream degrades
// into the response instead.
func (o *Orchestrator) HandleTurn(ctx context.Context, ownerID string, req models.ChatRequest) (*models.ChatResponse, error) {
	conv, err := o.loadConversation(ctx, ownerID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// The utterance is recorded before resolution so it is never lost,
	// whatever happens downstream.
	if req.Message != "" {
		o.appendMessage(ctx, conv.ID, models.RoleUser, req.Message, nil)
	}

	resp := &models.ChatResponse{
		ConversationID: conv.ID,
		ActionsTaken:   []models.ActionTaken{},
		Timestamp:      time.Now().UTC(),
	}

	switch {
	case req.ConfirmAction != nil:
		// Client echoed a confirmation prompt: execute directly, no resolution.
		if _, state := o.loadPending(ctx, conv.ID); state != nil {
			o.clearPending(ctx, state)
		}
		o.executeConfirmed(ctx, ownerID, conv.ID, req.ConfirmAction, resp)
	default:
		o.resolveAndExecute(ctx, ownerID, conv.ID, req.Message, resp)
	}

	o.appendMessage(ctx, conv.ID, models.RoleAssistant, resp.Response, assistantMetadata(resp))
	o.touchConversation(ctx, conv)

	return resp, nil
}

func (o *Orchestrator) loadConversation(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	if conversationID != "" {
		conv, err := o.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.OwnerID != ownerID {
			return nil, &store.ErrUnauthorized{Entity: "conversation", Key: conversationID}
		}
		return conv, nil
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     models.DefaultConversationTitle(now),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (o *Orchestrator) resolveAndExecute(ctx context.Context, ownerID, conversationID, utterance string, resp *models.ChatResponse) {
	// A bare affirmative replays a pending destructive call from a prior
	// turn; any other utterance clears the pending state.
	pending, state := o.loadPending(ctx, conversationID)
	if pending != nil {
		if affirmatives[normalize(utterance)] {
			o.clearPending(ctx, state)
			o.executeConfirmed(ctx, ownerID, conversationID, pending, resp)
			return
		}
		o.clearPending(ctx, state)
	}

	history, err := o.store.ListMessages(ctx, conversationID, 0, store.OrderAsc)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("History load failed")
	}

	resolved, err := o.resolver.Resolve(ctx, ownerID, utterance, history)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("Intent resolution failed")
		resp.Response = apologyReply
		return
	}

	if resolved.ToolCall == nil {
		resp.Response = resolved.Reply
		return
	}

	args := cloneArgs(resolved.ToolCall.Arguments)
	// The owner always comes from the authenticated identity, never from
	// resolver output.
	args["owner_id"] = ownerID
	delete(args, "confirmed")

	result := o.registry.Execute(ctx, resolved.ToolCall.Name, args)

	// Listing an empty store reads as a plain reply, not an action.
	if resolved.ToolCall.Name == tools.ToolGetTasks && result.Success && result.Count == 0 {
		resp.Response = result.Message
		return
	}

	if result.RequiresConfirmation {
		confirm := &models.ConfirmAction{
			ToolName: resolved.ToolCall.Name,
			ToolArgs: cloneArgs(resolved.ToolCall.Arguments),
		}
		if result.TaskID != "" {
			confirm.ToolArgs["id"] = result.TaskID
		}
		o.storePending(ctx, conversationID, confirm)
		resp.RequiresConfirmation = true
		resp.ConfirmAction = confirm
		resp.Response = result.Message
		return
	}

	o.recordResult(resolved.ToolCall.Name, result, resp)
}

func (o *Orchestrator) executeConfirmed(ctx context.Context, ownerID, conversationID string, confirm *models.ConfirmAction, resp *models.ChatResponse) {
	args := cloneArgs(confirm.ToolArgs)
	args["confirmed"] = true
	args["owner_id"] = ownerID

	result := o.registry.Execute(ctx, confirm.ToolName, args)
	o.recordResult(confirm.ToolName, result, resp)
}

// recordResult folds one executed tool result into the response.
func (o *Orchestrator) recordResult(toolName string, result models.ToolResult, resp *models.ChatResponse) {
	resp.ActionsTaken = append(resp.ActionsTaken, models.ActionTaken{ToolName: toolName, Output: result})

	switch {
	case result.Success:
		resp.Response = result.Message
		if toolName == tools.ToolCreateTask {
			resp.TaskCreated = true
			resp.TaskID = result.TaskID
		}
	case result.Error != "":
		resp.Response = "Sorry, I couldn't do that: " + result.Error + "."
	default:
		resp.Response = apologyReply
	}
}

// ── Pending confirmation state ───────────────────────────────

func (o *Orchestrator) loadPending(ctx context.Context, conversationID string) (*models.ConfirmAction, *models.ConversationState) {
	state, err := o.store.GetConversationState(ctx, conversationID)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Error().Err(err).Str("conversation_id", conversationID).Msg("Conversation state load failed")
		}
		return nil, nil
	}

	raw, ok := state.State[pendingKey].(map[string]interface{})
	if !ok {
		return nil, state
	}
	name, _ := raw["tool_name"].(string)
	toolArgs, _ := raw["tool_args"].(map[string]interface{})
	if name == "" {
		return nil, state
	}
	return &models.ConfirmAction{ToolName: name, ToolArgs: cloneArgs(toolArgs)}, state
}

// storePending persists the confirmation prompt so "yes" on the next turn
// works even without the client echoing confirm_action. A version conflict
// means a concurrent turn won; it is logged and the turn still succeeds,
// since the client also carries the prompt in the response.
func (o *Orchestrator) storePending(ctx context.Context, conversationID string, confirm *models.ConfirmAction) {
	state, err := o.store.GetConversationState(ctx, conversationID)
	if err != nil {
		state = &models.ConversationState{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			State:          map[string]interface{}{},
		}
	}
	state.State[pendingKey] = map[string]interface{}{
		"tool_name": confirm.ToolName,
		"tool_args": confirm.ToolArgs,
	}
	if err := o.store.PutConversationState(ctx, state); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Pending confirmation not persisted")
	}
}

func (o *Orchestrator) clearPending(ctx context.Context, state *models.ConversationState) {
	if state == nil {
		return
	}
	if _, ok := state.State[pendingKey]; !ok {
		return
	}
	delete(state.State, pendingKey)
	if err := o.store.PutConversationState(ctx, state); err != nil {
		log.Warn().Err(err).Str("conversation_id", state.ConversationID).Msg("Pending confirmation not cleared")
	}
}

// ── Persistence helpers (best effort) ────────────────────────

func (o *Orchestrator) appendMessage(ctx context.Context, conversationID string, role models.MessageRole, content string, metadata map[string]interface{}) {
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Metadata:       metadata,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("role", string(role)).Msg("Message not persisted")
	}
}

func (o *Orchestrator) touchConversation(ctx context.Context, conv *models.Conversation) {
	now := time.Now().UTC()
	conv.UpdatedAt = now
	conv.LastMessageAt = &now
	if err := o.store.UpdateConversation(ctx, conv); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Conversation not touched")
	}
}

func assistantMetadata(resp *models.ChatResponse) map[string]interface{} {
	if len(resp.ActionsTaken) == 0 && !resp.RequiresConfirmation {
		return nil
	}
	md := map[string]interface{}{}
	if len(resp.ActionsTaken) > 0 {
		names := make([]string, 0, len(resp.ActionsTaken))
		for _, a := range resp.ActionsTaken {
			names = append(names, a.ToolName)
		}
		md["tools"] = names
	}
	if resp.RequiresConfirmation {
		md["requires_confirmation"] = true
	}
	return md
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(args))
	for k, v := range args {
		cloned[k] = v
	}
	return cloned
}

func normalize(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), ".!")
}
