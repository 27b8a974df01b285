package tools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ragline/ragline/retrieval"
)

// RegisterBuiltins installs the stock tools into a registry. Callers that
// want only a subset register the individual definitions instead.
func RegisterBuiltins(registry *Registry, searcher retrieval.Searcher) error {
	defs := []Definition{
		CalculatorDefinition(),
		TimestampDefinition(),
		WebpageTextDefinition(),
	}
	if searcher != nil {
		defs = append(defs, KnowledgeSearchDefinition(searcher))
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func CalculatorDefinition() Definition {
	return Definition{
		Name:        "calculator",
		Description: "Evaluate arithmetic expressions with +, -, *, /, and parentheses.",
		Category:    "math",
		Parameters: []Parameter{
			{Name: "expression", Type: TypeString, Required: true, Description: "Arithmetic expression to evaluate, e.g. (2+3)*4 or 10/5."},
		},
		Examples: []Example{
			{Input: map[string]any{"expression": "(2+3)*4"}, Description: "multiply a sum"},
		},
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			_ = ctx
			expression, _ := input["expression"].(string)
			if expression == "" {
				return "", fmt.Errorf("expression is required")
			}
			val, err := evalArithmetic(expression)
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(val, 'f', -1, 64), nil
		},
	}
}

func evalArithmetic(expression string) (float64, error) {
	parsed, err := parser.ParseExpr(expression)
	if err != nil {
		return 0, fmt.Errorf("failed to parse expression: %w", err)
	}
	return evalNode(parsed)
}

func evalNode(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal: %s", n.Value)
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", n.Value, err)
		}
		return v, nil

	case *ast.ParenExpr:
		return evalNode(n.X)

	case *ast.UnaryExpr:
		v, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return v, nil
		case token.SUB:
			return -v, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator: %s", n.Op)
		}

	case *ast.BinaryExpr:
		left, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		default:
			return 0, fmt.Errorf("unsupported operator: %s", n.Op)
		}

	default:
		return 0, fmt.Errorf("unsupported expression type: %T", node)
	}
}

func TimestampDefinition() Definition {
	return Definition{
		Name:        "timestamp",
		Description: "Convert between Unix timestamps and RFC3339 date strings, or report the current time.",
		Category:    "time",
		Parameters: []Parameter{
			{Name: "input", Type: TypeString, Required: true, Description: "A Unix timestamp (seconds), an RFC3339 date string, or \"now\"."},
		},
		Examples: []Example{
			{Input: map[string]any{"input": "1700000000"}, Description: "unix seconds to RFC3339"},
			{Input: map[string]any{"input": "now"}},
		},
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			_ = ctx
			raw, _ := input["input"].(string)
			if raw == "" {
				return "", fmt.Errorf("input is required")
			}
			if strings.EqualFold(raw, "now") {
				now := time.Now().UTC()
				return fmt.Sprintf("unix=%d rfc3339=%s", now.Unix(), now.Format(time.RFC3339)), nil
			}
			if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return time.Unix(secs, 0).UTC().Format(time.RFC3339), nil
			}
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return "", fmt.Errorf("input is neither a unix timestamp nor RFC3339: %w", err)
			}
			return strconv.FormatInt(t.Unix(), 10), nil
		},
	}
}

func WebpageTextDefinition() Definition {
	return Definition{
		Name:        "webpage_text",
		Description: "Fetch a web page and extract its readable text content.",
		Category:    "web",
		Parameters: []Parameter{
			{Name: "url", Type: TypeString, Required: true, Description: "The URL to fetch."},
			{Name: "max_chars", Type: TypeNumber, Required: false, Default: float64(4000), Description: "Truncate extracted text to this many characters."},
		},
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			url, _ := input["url"].(string)
			if url == "" {
				return "", fmt.Errorf("url is required")
			}
			maxChars := 4000
			if v, ok := input["max_chars"].(float64); ok && v > 0 {
				maxChars = int(v)
			}
			return fetchPageText(ctx, url, maxChars)
		},
	}
}

func fetchPageText(ctx context.Context, url string, maxChars int) (string, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ragline/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.TrimSpace(sb.String())
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

func KnowledgeSearchDefinition(searcher retrieval.Searcher) Definition {
	return Definition{
		Name:        "knowledge_search",
		Description: "Search the knowledge base for documents relevant to a query.",
		Category:    "retrieval",
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Required: true, Description: "The search query."},
			{Name: "limit", Type: TypeNumber, Required: false, Default: float64(5), Description: "Number of results to return."},
		},
		Examples: []Example{
			{Input: map[string]any{"query": "quarterly revenue policy"}},
		},
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			query, _ := input["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := 5
			if v, ok := input["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}
			userID, _ := input["user_id"].(string)
			docs, err := searcher.Search(ctx, userID, query, retrieval.SearchOptions{Limit: limit})
			if err != nil {
				return "", fmt.Errorf("knowledge search failed: %w", err)
			}

			var sb strings.Builder
			sb.WriteString(fmt.Sprintf("Found %d relevant documents:\n\n", len(docs)))
			for i, doc := range docs {
				sb.WriteString(fmt.Sprintf("[%d] %s (score %.3f)\n", i+1, doc.Title, doc.Metadata.RelevanceScore))
				sb.WriteString(doc.Body)
				sb.WriteString("\n\n")
			}
			return strings.TrimSpace(sb.String()), nil
		},
	}
}
