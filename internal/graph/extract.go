package graph

import (
	"context"
	"encoding/json"
	"strings"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// TextCompleter is the slice of the LLM client the extractor needs.
type TextCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const extractionSystemPrompt = `You extract a knowledge graph from text.
Respond with JSON only, no prose, in this shape:
{"entities":[{"name":"...","type":"Person|Project|Technology|Organization|Topic|Date|Email|Document","summary":"..."}],
 "relationships":[{"source":"entity name","target":"entity name","kind":"VERB_PHRASE","fact":"one sentence"}]}
Entity names must be the canonical surface form. Relationship source and
target must match entity names from the same response.`

// extraction is the wire shape returned by the LLM.
type extraction struct {
	Entities []struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		Summary string `json:"summary"`
	} `json:"entities"`
	Relationships []struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Kind   string `json:"kind"`
		Fact   string `json:"fact"`
	} `json:"relationships"`
}

// extractGraph asks the LLM for entities and relationships in the text.
func extractGraph(ctx context.Context, llm TextCompleter, text string) (*extraction, error) {
	raw, err := llm.Complete(ctx, extractionSystemPrompt, text)
	if err != nil {
		return nil, err
	}

	var out extraction
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindProviderUnavailable, err, "parse extraction response")
	}

	// Drop entities with unusable names or unknown types rather than failing
	// the episode.
	kept := out.Entities[:0]
	for _, e := range out.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		if !types.EntityType(e.Type).Valid() {
			e.Type = string(types.EntityTopic)
		}
		kept = append(kept, e)
	}
	out.Entities = kept
	return &out, nil
}

// stripCodeFence removes a surrounding markdown fence if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// NormalizeName is the merge key for entities: lowercased, whitespace
// collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
