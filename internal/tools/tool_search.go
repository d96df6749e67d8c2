package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const defaultToolSearchLimit = 5

// SpecSource lists tool specs for search. Both the built-in registry and the
// external host layer satisfy it.
type SpecSource interface {
	List() []Spec
}

// ToolSearchTool ranks the available tools against a free-text query. Name
// matches weigh more than description matches.
type ToolSearchTool struct {
	sources []SpecSource
}

// NewToolSearchTool creates the tool over one or more spec sources.
func NewToolSearchTool(sources ...SpecSource) *ToolSearchTool {
	return &ToolSearchTool{sources: sources}
}

// Spec implements Tool.
func (t *ToolSearchTool) Spec() Spec {
	return Spec{
		Name: "tool_search",
		Description: "Search the available tools by name and description. " +
			"Use this to discover which tool fits a task.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text description of the capability you need",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default 5)",
				},
			},
			"required": []string{"query"},
		},
	}
}

type toolSearchHit struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Score       int    `json:"-"`
}

// Execute implements Executor.
func (t *ToolSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query := strings.TrimSpace(GetStringParam(args, "query", ""))
	if query == "" {
		return "", NewError(ErrorInvalidArguments, fmt.Errorf("query is required"))
	}

	limit := GetIntParam(args, "limit", defaultToolSearchLimit)
	if limit <= 0 {
		limit = defaultToolSearchLimit
	}

	queryTokens := tokenize(query)

	var hits []toolSearchHit
	for _, source := range t.sources {
		for _, spec := range source.List() {
			score := scoreSpec(spec, queryTokens)
			if score > 0 {
				hits = append(hits, toolSearchHit{
					Name:        spec.Name,
					Description: spec.Description,
					Score:       score,
				})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Name < hits[j].Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if len(hits) == 0 {
		return fmt.Sprintf("No tools match %q.", query), nil
	}

	data, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("failed to encode results: %w", err))
	}
	return string(data), nil
}

// scoreSpec counts query token overlap; tokens found in the tool name count
// three times as much as tokens found in the description.
func scoreSpec(spec Spec, queryTokens []string) int {
	nameTokens := tokenSet(tokenize(spec.Name))
	descTokens := tokenSet(tokenize(spec.Description))

	score := 0
	for _, token := range queryTokens {
		if nameTokens[token] {
			score += 3
		} else if descTokens[token] {
			score++
		}
	}
	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}
