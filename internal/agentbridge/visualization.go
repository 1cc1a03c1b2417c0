package agentbridge

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sentientmobilefurniture/sessiond/internal/eventlog"
)

// Sub-agent responses may embed a delimited format with three labelled
// sections. Parsing is defensive: when the query or results section is
// missing, the caller falls back to a generic "documents" visualization
// containing the raw text (spec.md §4.2). The analysis section is
// optional.
var (
	queryRe   = regexp.MustCompile(`(?is)QUERY:\s*(.*?)(?:\n\s*RESULTS:|\z)`)
	resultsRe = regexp.MustCompile(`(?is)RESULTS:\s*(.*?)(?:\n\s*ANALYSIS:|\z)`)
	analysisRe = regexp.MustCompile(`(?is)ANALYSIS:\s*(.*)\z`)
)

// parsedSections holds the labelled sections extracted from a raw
// sub-agent response; Analysis is "" when that section was absent.
type parsedSections struct {
	Query    string
	Results  string
	Analysis string
}

// parseDelimitedOutput extracts the query/results/analysis sections. ok is
// false if the query and results sections were not both found, in which
// case the caller must fall back to a generic documents visualization.
func parseDelimitedOutput(raw string) (parsedSections, bool) {
	qm := queryRe.FindStringSubmatch(raw)
	rm := resultsRe.FindStringSubmatch(raw)
	if qm == nil || rm == nil {
		return parsedSections{}, false
	}
	var analysis string
	if am := analysisRe.FindStringSubmatch(raw); am != nil {
		analysis = strings.TrimSpace(am[1])
	}
	return parsedSections{
		Query:    strings.TrimSpace(qm[1]),
		Results:  strings.TrimSpace(rm[1]),
		Analysis: analysis,
	}, true
}

// ClassifyVisualization builds the Visualization list for a step_response
// payload from a raw sub-agent response. On any parse failure it returns
// a single generic-document visualization containing the raw text.
func ClassifyVisualization(raw string) []eventlog.Visualization {
	sections, ok := parseDelimitedOutput(raw)
	if !ok {
		return []eventlog.Visualization{{Kind: "documents", Data: raw}}
	}

	kind, data := classifyResults(sections.Results)
	viz := eventlog.Visualization{Kind: kind, Data: data}
	if sections.Analysis != "" {
		return []eventlog.Visualization{viz, {Kind: "documents", Data: sections.Analysis}}
	}
	return []eventlog.Visualization{viz}
}

// classifyResults inspects the shape of the results section (structured
// JSON, when present) and decides between the three recognised
// visualization variants. When both a query and results are present but
// the shape is ambiguous, it defaults to "table" per spec.md §4.2's
// tie-break rule.
func classifyResults(results string) (kind string, data any) {
	trimmed := strings.TrimSpace(results)
	if trimmed == "" {
		return "documents", results
	}

	var generic any
	if err := json.Unmarshal([]byte(trimmed), &generic); err != nil {
		return "documents", results
	}

	switch v := generic.(type) {
	case map[string]any:
		if _, hasNodes := v["nodes"]; hasNodes {
			if _, hasEdges := v["edges"]; hasEdges {
				return "graph", v
			}
		}
		return "table", v
	case []any:
		if len(v) == 0 {
			return "table", v
		}
		if _, isObject := v[0].(map[string]any); isObject {
			return "table", v
		}
		return "documents", v
	default:
		return "table", v
	}
}
