// Package llm defines the narrow interface the engine consumes from a
// language-model backend. Concrete providers live outside this module; the
// engine only ever sees this contract plus the fallback wrapper below.
package llm

import (
	"context"

	"github.com/ragline/ragline/types"
)

type CallOptions struct {
	MaxTokens   int
	Temperature float64
}

// Complexity is the model's judgement of a raw query, used to decide
// whether to fan the retrieval step out over sub-queries.
type Complexity struct {
	IsComplex        bool     `json:"isComplex"`
	ShouldSplit      bool     `json:"shouldSplit"`
	SuggestedQueries []string `json:"suggestedQueries,omitempty"`
}

type Client interface {
	Call(ctx context.Context, messages []types.Message, opts CallOptions) (string, error)
	RewriteQuery(ctx context.Context, query string, history []types.Message) (string, error)
	AnalyzeComplexity(ctx context.Context, query string) (Complexity, error)
}
