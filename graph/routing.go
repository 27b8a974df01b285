package graph

import (
	"regexp"
	"strings"

	"github.com/ragline/ragline/types"
)

type Route string

const (
	RouteWiden   Route = "widen"
	RouteTool    Route = "tool"
	RouteRunTool Route = "run_tool"
	RouteAnswer  Route = "answer"
)

// lowRelevanceThreshold marks a result set as unsatisfying when even its
// best hit scores below this.
const lowRelevanceThreshold = 0.5

// routeAfterRetrieve decides the transition out of the retrieve node. Pure
// function of state: the same state always elects the same route.
func routeAfterRetrieve(state types.AgentState) Route {
	if retrievalUnsatisfied(state) && !state.Tasks.WidenAttempted {
		return RouteWiden
	}
	if toolIndicated(state) {
		return RouteTool
	}
	return RouteAnswer
}

// routeAfterTool runs the selected tool, or skips straight to the answer
// when the router declined to pick one.
func routeAfterTool(state types.AgentState) Route {
	if name := state.Tasks.SelectedTool; name != "" && name != "none" {
		return RouteRunTool
	}
	return RouteAnswer
}

func retrievalUnsatisfied(state types.AgentState) bool {
	if len(state.Docs) == 0 {
		return true
	}
	best := 0.0
	for _, doc := range state.Docs {
		if doc.Metadata.RelevanceScore > best {
			best = doc.Metadata.RelevanceScore
		}
	}
	return best < lowRelevanceThreshold
}

var arithmeticCue = regexp.MustCompile(`\d+\s*[-+*/]\s*\d+`)

var toolCues = []string{
	"calculate",
	"compute",
	"convert",
	"timestamp",
	"http://",
	"https://",
	"look up",
	"search the web",
}

// toolIndicated is a deterministic cue check; the tool router itself still
// decides whether any registered tool actually applies.
func toolIndicated(state types.AgentState) bool {
	msg := strings.ToLower(state.LastUserMessage())
	if msg == "" {
		return false
	}
	for _, cue := range toolCues {
		if strings.Contains(msg, cue) {
			return true
		}
	}
	return arithmeticCue.MatchString(msg)
}
