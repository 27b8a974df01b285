// Package retrieval defines the contract the engine requires from a
// document search backend. The ranking algorithm itself is the backend's
// concern; the engine only consumes ordered, scored documents.
package retrieval

import (
	"context"

	"github.com/ragline/ragline/types"
)

type SearchOptions struct {
	Limit int
	// MinRelevance drops results scored below the threshold. Zero keeps
	// everything; widening sets it to zero explicitly.
	MinRelevance float64
}

type Searcher interface {
	Search(ctx context.Context, userID, query string, opts SearchOptions) ([]types.Document, error)
}

type SearcherFunc func(ctx context.Context, userID, query string, opts SearchOptions) ([]types.Document, error)

func (f SearcherFunc) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]types.Document, error) {
	if f == nil {
		return []types.Document{}, nil
	}
	return f(ctx, userID, query, opts)
}

type safeSearcher struct {
	inner Searcher
}

// Safe wraps a searcher so that backend failures read as an empty result
// set rather than an error; the pipeline widens or answers without docs.
func Safe(inner Searcher) Searcher {
	return &safeSearcher{inner: inner}
}

func (s *safeSearcher) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]types.Document, error) {
	if s.inner == nil {
		return []types.Document{}, nil
	}
	docs, err := s.inner.Search(ctx, userID, query, opts)
	if err != nil || docs == nil {
		return []types.Document{}, nil
	}
	return docs, nil
}
