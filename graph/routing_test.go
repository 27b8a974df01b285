package graph

import (
	"testing"

	"github.com/ragline/ragline/types"
)

func stateWith(msg string, docs []types.Document, tasks types.Tasks) types.AgentState {
	return types.AgentState{
		Messages: []types.Message{{Role: types.RoleUser, Content: msg}},
		Docs:     docs,
		Tasks:    tasks,
	}
}

func TestRouteAfterRetrieve(t *testing.T) {
	goodDocs := []types.Document{{ID: "d1", Metadata: types.DocumentMetadata{RelevanceScore: 0.9}}}
	weakDocs := []types.Document{{ID: "d1", Metadata: types.DocumentMetadata{RelevanceScore: 0.1}}}

	cases := []struct {
		name  string
		state types.AgentState
		want  Route
	}{
		{"empty docs widen first", stateWith("tell me about gophers", nil, types.Tasks{}), RouteWiden},
		{"low relevance widens", stateWith("tell me about gophers", weakDocs, types.Tasks{}), RouteWiden},
		{"empty docs after widen answers", stateWith("tell me about gophers", nil, types.Tasks{WidenAttempted: true}), RouteAnswer},
		{"good docs answer", stateWith("tell me about gophers", goodDocs, types.Tasks{}), RouteAnswer},
		{"tool cue routes to router", stateWith("calculate 12*7 for me", goodDocs, types.Tasks{}), RouteTool},
		{"arithmetic cue routes to router", stateWith("what is 12 * 7", goodDocs, types.Tasks{}), RouteTool},
		{"tool cue loses to first widen", stateWith("calculate 12*7 for me", nil, types.Tasks{}), RouteWiden},
		{"tool cue wins after widen", stateWith("calculate 12*7 for me", nil, types.Tasks{WidenAttempted: true}), RouteTool},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := routeAfterRetrieve(tc.state); got != tc.want {
				t.Fatalf("routeAfterRetrieve = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRouteAfterTool(t *testing.T) {
	cases := []struct {
		name     string
		selected string
		want     Route
	}{
		{"selected tool runs", "calculator", RouteRunTool},
		{"none skips", "none", RouteAnswer},
		{"empty skips", "", RouteAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := types.AgentState{Tasks: types.Tasks{SelectedTool: tc.selected}}
			if got := routeAfterTool(state); got != tc.want {
				t.Fatalf("routeAfterTool = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWidenQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"exact phrase" gophers`, "exact phrase gophers"},
		{`gophers site:example.com lang:en`, "gophers"},
		{`site:example.com`, "site:example.com"},
		{"plain query", "plain query"},
	}
	for _, tc := range cases {
		if got := widenQuery(tc.in); got != tc.want {
			t.Fatalf("widenQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseToolChoice(t *testing.T) {
	name, input := parseToolChoice("tool: Calculator\ninput: {\"expression\": \"2+3\"}")
	if name != "calculator" {
		t.Fatalf("name = %q, want calculator", name)
	}
	if input["expression"] != "2+3" {
		t.Fatalf("input = %v", input)
	}

	name, input = parseToolChoice("I don't think any tool applies here.")
	if name != "" || input != nil {
		t.Fatalf("unparseable reply should yield no tool, got %q %v", name, input)
	}

	name, _ = parseToolChoice("tool: none")
	if name != "none" {
		t.Fatalf("name = %q, want none", name)
	}
}
