package intent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/tasknest/tasknest/internal/store"
	"github.com/tasknest/tasknest/internal/tools"
	"github.com/tasknest/tasknest/pkg/models"
)

// Rule order matters: creation is checked before listing so "add task to
// my list" never resolves as a list request, and numbered completion is
// checked before deletion so "mark task 2 done" can't match a delete rule.
var (
	createPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:can you |could you )?(?:add|create)(?: a)?(?: new)? task(?: to| called| named|:)?\s+(.+)$`),
		regexp.MustCompile(`^new task[:\s]+(.+)$`),
		regexp.MustCompile(`^(?:can you |could you )?add\s+(.+?)\s+to my (?:tasks|task list|todo list|list)$`),
		regexp.MustCompile(`^remind me to\s+(.+)$`),
	}
	listPattern     = regexp.MustCompile(`\b(?:show|list|view|see|what are)\b.*\btasks?\b|^my tasks$|^tasks$`)
	completePattern = regexp.MustCompile(`(?:complete|finish|mark)\s+task\s+#?(\d+)(?:\s+(?:as\s+)?(?:done|completed?))?|task\s+#?(\d+)\s+(?:is\s+)?done`)
	deletePattern   = regexp.MustCompile(`(?:delete|remove|del)\s+task\s+#?(\d+)`)
	greetingPattern = regexp.MustCompile(`^(?:hello|hi|hey|good (?:morning|afternoon|evening))\b`)
)

// Trailing fillers stripped off extracted task titles.
var titleFillers = []string{"please", "thanks", "thank you", "for me", "to my tasks", "to my list"}

const fallbackReply = "I can help you manage your tasks. Try \"add a task to buy groceries\", " +
	"\"show my tasks\", \"complete task 1\", or \"delete task 2\"."

const greetingReply = "Hello! I'm your task assistant. I can create, list, complete, and delete tasks for you."

// PatternResolver resolves utterances with ordered regular expression
// rules. Numeric task references ("task 2") are positions in the owner's
// task list in ascending creation order, looked up live at resolution time.
type PatternResolver struct {
	store store.TaskStore
}

// NewPatternResolver creates the deterministic rule-based resolver.
func NewPatternResolver(s store.TaskStore) *PatternResolver {
	return &PatternResolver{store: s}
}

// Resolve applies the rules first-match-wins over the lower-cased utterance.
// It never returns an error for an unrecognized utterance; unmatched input
// falls through to a help reply.
func (p *PatternResolver) Resolve(ctx context.Context, ownerID, utterance string, _ []models.Message) (*models.Intent, error) {
	u := strings.ToLower(strings.TrimSpace(utterance))
	u = strings.TrimRight(u, ".!?")

	for _, re := range createPatterns {
		if m := re.FindStringSubmatch(u); m != nil {
			title := cleanTitle(m[1])
			if title == "" {
				return &models.Intent{Reply: "What should the task be called?"}, nil
			}
			return &models.Intent{ToolCall: &models.ToolCall{
				Name:      tools.ToolCreateTask,
				Arguments: map[string]interface{}{"title": title},
			}}, nil
		}
	}

	if listPattern.MatchString(u) {
		args := map[string]interface{}{}
		if strings.Contains(u, "completed") || strings.Contains(u, "finished") {
			args["status"] = "completed"
		} else if strings.Contains(u, "pending") || strings.Contains(u, "open") {
			args["status"] = "pending"
		}
		return &models.Intent{ToolCall: &models.ToolCall{
			Name:      tools.ToolGetTasks,
			Arguments: args,
		}}, nil
	}

	if m := completePattern.FindStringSubmatch(u); m != nil {
		n := firstGroup(m)
		return p.indexedCall(ctx, ownerID, tools.ToolCompleteTask, n)
	}

	if m := deletePattern.FindStringSubmatch(u); m != nil {
		n := firstGroup(m)
		return p.indexedCall(ctx, ownerID, tools.ToolDeleteTask, n)
	}

	if greetingPattern.MatchString(u) {
		return &models.Intent{Reply: greetingReply}, nil
	}

	return &models.Intent{Reply: fallbackReply}, nil
}

// indexedCall maps the 1-based position n onto the owner's live task list.
// An out-of-range position is answered with a reply, not a tool call.
func (p *PatternResolver) indexedCall(ctx context.Context, ownerID, tool string, n int) (*models.Intent, error) {
	tasks, err := p.store.ListTasks(ctx, ownerID, store.FilterAll)
	if err != nil {
		return nil, fmt.Errorf("resolve task index: %w", err)
	}
	if n < 1 || n > len(tasks) {
		return &models.Intent{Reply: fmt.Sprintf("Task #%d not found. You have %d task(s).", n, len(tasks))}, nil
	}
	return &models.Intent{ToolCall: &models.ToolCall{
		Name:      tool,
		Arguments: map[string]interface{}{"id": tasks[n-1].ID},
	}}, nil
}

func firstGroup(m []string) int {
	for _, g := range m[1:] {
		if g != "" {
			n, _ := strconv.Atoi(g)
			return n
		}
	}
	return 0
}

// cleanTitle strips trailing filler phrases and title-cases the result.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	for changed := true; changed; {
		changed = false
		title = strings.TrimRight(title, " ,.!")
		for _, filler := range titleFillers {
			if strings.HasSuffix(title, " "+filler) || title == filler {
				title = strings.TrimSpace(strings.TrimSuffix(title, filler))
				changed = true
			}
		}
	}
	return titleCase(title)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

var _ Resolver = (*PatternResolver)(nil)
