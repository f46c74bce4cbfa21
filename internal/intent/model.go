package intent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tasknest/tasknest/pkg/models"
)

const systemPrompt = `You are TaskNest, a friendly assistant that manages the user's todo list.
Use the provided tools to create, list, update, complete, and delete tasks.
When the user's message does not call for a task operation, answer briefly in plain text.
Never invent task ids; list tasks first if you need one.`

// ModelResolver delegates intent resolution to a chat completion service,
// advertising the registry's tool schemas. It degrades instead of failing:
// unparsable tool arguments become an explanatory reply, and only transport
// errors surface to the caller.
type ModelResolver struct {
	client  *openai.Client
	model   string
	schemas []models.ToolSchema
}

// NewModelResolver builds a resolver talking to an OpenAI-compatible
// endpoint. An empty baseURL targets the official API.
func NewModelResolver(apiKey, baseURL, model string, schemas []models.ToolSchema) *ModelResolver {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ModelResolver{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		schemas: schemas,
	}
}

func (m *ModelResolver) Resolve(ctx context.Context, _ string, utterance string, history []models.Message) (*models.Intent, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	// The orchestrator appends the utterance to the transcript before
	// resolving; only add it here if the history doesn't already end with it.
	if len(history) == 0 || history[len(history)-1].Content != utterance {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: utterance,
		})
	}

	tools := make([]openai.Tool, 0, len(m.schemas))
	for _, schema := range m.schemas {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				log.Warn().Err(err).Str("tool", tc.Function.Name).Msg("Unparsable tool arguments from model")
				return &models.Intent{
					Reply: "I understood that as a task operation but couldn't work out the details. Could you rephrase?",
				}, nil
			}
		}
		return &models.Intent{ToolCall: &models.ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		}}, nil
	}

	return &models.Intent{Reply: choice.Message.Content}, nil
}

var _ Resolver = (*ModelResolver)(nil)
