package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ragline/ragline/llm"
	"github.com/ragline/ragline/retrieval"
	"github.com/ragline/ragline/tools"
	"github.com/ragline/ragline/types"
)

// Node names. They key NodeTimings and observe events.
const (
	NodeSplitRewrite   = "splitRewrite"
	NodeRetrieve       = "retrieve"
	NodeDynamicWiden   = "dynamicWiden"
	NodeToolRouter     = "toolRouter"
	NodeRunTool        = "runTool"
	NodeGenerateAnswer = "generateAnswer"
)

const (
	defaultMaxContextItems = 5
	defaultMinRelevance    = lowRelevanceThreshold
)

// Deps carries the collaborators nodes are allowed to touch. Nodes hold no
// state of their own; everything they need arrives here or in AgentState.
type Deps struct {
	LLM      llm.Client
	Searcher retrieval.Searcher
	Registry *tools.Registry
	Tools    *tools.SecureExecutor
}

// NodeFunc is one pipeline step: it reads state, calls collaborators, and
// returns a delta. It never mutates state directly.
type NodeFunc func(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error)

func splitRewrite(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error) {
	query := state.LastUserMessage()
	history := priorTurns(state.Messages)

	rewritten, err := d.LLM.RewriteQuery(ctx, query, history)
	if err != nil {
		return Delta{}, fmt.Errorf("failed to rewrite query: %w", err)
	}
	if strings.TrimSpace(rewritten) == "" {
		rewritten = query
	}

	delta := Delta{RewrittenQuery: &rewritten}
	if state.Options.EnhanceContext {
		// Best effort: a failed analysis just means no query fan-out.
		if cx, err := d.LLM.AnalyzeComplexity(ctx, query); err == nil {
			delta.IsComplex = &cx.IsComplex
			if cx.ShouldSplit {
				delta.SuggestedQueries = cx.SuggestedQueries
			}
		}
	}
	return delta, nil
}

// priorTurns returns every message before the latest user turn.
func priorTurns(messages []types.Message) []types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[:i]
		}
	}
	return messages
}

func retrieve(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error) {
	query := state.Tasks.RewrittenQuery
	if query == "" {
		query = state.LastUserMessage()
	}

	limit := state.Options.MaxContextItems
	if limit <= 0 {
		limit = defaultMaxContextItems
	}
	opts := retrieval.SearchOptions{Limit: limit, MinRelevance: defaultMinRelevance}
	if state.Tasks.WidenAttempted {
		opts.MinRelevance = 0
	}

	queries := []string{query}
	if state.Options.EnhanceContext {
		queries = append(queries, state.Tasks.SuggestedQueries...)
	}

	seen := map[string]bool{}
	docs := make([]types.Document, 0, limit)
	for _, q := range queries {
		if len(docs) >= limit {
			break
		}
		results, err := d.Searcher.Search(ctx, state.UserID, q, opts)
		if err != nil {
			return Delta{}, fmt.Errorf("failed to retrieve documents: %w", err)
		}
		for _, doc := range results {
			if len(docs) >= limit {
				break
			}
			if doc.ID != "" && seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			docs = append(docs, doc)
		}
	}
	return Delta{Docs: docs, SetDocs: true}, nil
}

func dynamicWiden(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error) {
	_ = ctx
	_ = d
	query := state.Tasks.RewrittenQuery
	if query == "" {
		query = state.LastUserMessage()
	}
	widened := widenQuery(query)
	attempted := true
	return Delta{RewrittenQuery: &widened, WidenAttempted: &attempted}, nil
}

// widenQuery relaxes a query for the retry pass: exact-phrase quotes go,
// and field:value filter tokens go.
func widenQuery(query string) string {
	stripped := strings.ReplaceAll(query, `"`, " ")
	fields := strings.Fields(stripped)
	kept := make([]string, 0, len(fields))
	for _, field := range fields {
		if strings.Contains(field, ":") {
			continue
		}
		kept = append(kept, field)
	}
	widened := strings.Join(kept, " ")
	if widened == "" {
		return strings.Join(fields, " ")
	}
	return widened
}

const toolRouterSystemPrompt = `You route user requests to tools. Available tools:

%s
Reply with exactly one line "tool: <name>" naming the single best tool, or "tool: none" if no tool applies. You may add a second line "input: <json object>" with the tool's input.`

func toolRouter(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error) {
	none := ""
	catalog := d.Registry.Catalog()
	if catalog == "" {
		return Delta{SelectedTool: &none}, nil
	}

	query := state.Tasks.RewrittenQuery
	if query == "" {
		query = state.LastUserMessage()
	}
	out, err := d.LLM.Call(ctx, []types.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(toolRouterSystemPrompt, catalog)},
		{Role: types.RoleUser, Content: query},
	}, llm.CallOptions{})
	if err != nil {
		return Delta{}, fmt.Errorf("failed to route tool: %w", err)
	}

	name, input := parseToolChoice(out)
	if name == "" || name == "none" || !d.Registry.Has(name) {
		return Delta{SelectedTool: &none}, nil
	}
	if input == nil {
		input = defaultToolInput(d.Registry, name, query)
	}
	return Delta{SelectedTool: &name, ToolInput: input}, nil
}

// parseToolChoice reads the router model's reply. Anything unparseable
// comes back as no tool; the run proceeds straight to the answer.
func parseToolChoice(reply string) (string, map[string]any) {
	var name string
	var input map[string]any
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "tool:"):
			name = strings.ToLower(strings.TrimSpace(line[len("tool:"):]))
		case strings.HasPrefix(lower, "input:"):
			raw := strings.TrimSpace(line[len("input:"):])
			var parsed map[string]any
			if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
				input = parsed
			}
		}
	}
	return name, input
}

// defaultToolInput covers routers that name a tool but skip the input line:
// a tool with exactly one required parameter gets the query itself.
func defaultToolInput(registry *tools.Registry, name, query string) map[string]any {
	def, ok := registry.Get(name)
	if !ok {
		return map[string]any{}
	}
	var required []tools.Parameter
	for _, param := range def.Parameters {
		if param.Required {
			required = append(required, param)
		}
	}
	if len(required) == 1 && required[0].Type == tools.TypeString {
		return map[string]any{required[0].Name: query}
	}
	return map[string]any{}
}

func runTool(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error) {
	if d.Tools == nil {
		return Delta{}, fmt.Errorf("no tool executor configured")
	}
	result := d.Tools.Execute(ctx, state.Tasks.SelectedTool, state.Tasks.ToolInput, tools.Trace{
		RunID:  state.RunID,
		UserID: state.UserID,
	})
	return Delta{ToolResults: []types.ToolResult{result}}, nil
}

const answerSystemPrompt = `You are a helpful assistant. Answer the user's latest message using the conversation, the retrieved context, and any tool results below. If the context does not cover the question, say so plainly.`

func generateAnswer(ctx context.Context, state *types.AgentState, d *Deps) (Delta, error) {
	prompt := buildAnswerPrompt(state)
	out, err := d.LLM.Call(ctx, prompt, llm.CallOptions{
		MaxTokens:   state.Options.MaxTokens,
		Temperature: state.Options.Temperature,
	})
	if err != nil {
		return Delta{}, fmt.Errorf("failed to generate answer: %w", err)
	}

	final := true
	counts := state.Metadata.TokenCounts
	counts.Prompt += estimateTokens(promptText(prompt))
	counts.Completion += estimateTokens(out)
	counts.Total = counts.Prompt + counts.Completion

	return Delta{
		GeneratedText: &out,
		IsFinalState:  &final,
		TokenCounts:   &counts,
		Messages: []types.Message{
			{Role: types.RoleAssistant, Content: out, Timestamp: time.Now().UTC()},
		},
	}, nil
}

func buildAnswerPrompt(state *types.AgentState) []types.Message {
	var sb strings.Builder
	sb.WriteString(answerSystemPrompt)

	if len(state.Docs) > 0 {
		sb.WriteString("\n\nRetrieved context:\n")
		for i, doc := range state.Docs {
			sb.WriteString(fmt.Sprintf("[%d] %s\n%s\n", i+1, doc.Title, doc.Body))
		}
	}
	if len(state.Tasks.ToolResults) > 0 {
		sb.WriteString("\nTool results:\n")
		for _, result := range state.Tasks.ToolResults {
			if result.Succeeded() {
				sb.WriteString(fmt.Sprintf("%s: %s\n", result.ToolName, *result.Output))
			} else {
				sb.WriteString(fmt.Sprintf("%s failed: %s\n", result.ToolName, result.Error))
			}
		}
	}

	prompt := make([]types.Message, 0, len(state.Messages)+1)
	prompt = append(prompt, types.Message{Role: types.RoleSystem, Content: sb.String()})
	prompt = append(prompt, state.Messages...)
	return prompt
}

func promptText(messages []types.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// estimateTokens is the usual rough chars/4 heuristic; exact counts belong
// to the provider.
func estimateTokens(text string) int {
	return len(text) / 4
}
