// Package intent turns a chat utterance into an Intent: either a direct
// reply or exactly one tool call. Two strategies ship: a deterministic
// pattern resolver for offline use and tests, and a model-backed resolver
// that delegates to a chat completion service.
package intent

import (
	"context"

	"github.com/tasknest/tasknest/pkg/models"
)

// Resolver resolves one utterance against the conversation history.
// Resolvers are read-only with respect to storage and never set owner_id
// on the tool calls they produce; the orchestrator injects it.
type Resolver interface {
	Resolve(ctx context.Context, ownerID, utterance string, history []models.Message) (*models.Intent, error)
}
