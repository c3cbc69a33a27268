package inference

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sells-group/deal-enrich/pkg/anthropic"
)

// OfflineClient implements anthropic.Client with canned responses so runs
// can exercise the sinks and checkpointing without network access.
type OfflineClient struct{}

var _ anthropic.Client = (*OfflineClient)(nil)

const uncategorized = "Uncategorized"

// offlineResult is shaped like a unified response. Subtask prompts receive
// the matching section.
var offlineResult = map[string]any{
	"taxonomy": map[string]any{
		"tier1": uncategorized,
		"tier2": nil,
		"tier3": nil,
	},
	"safety": map[string]any{
		"garm_risk_rating": "Low",
		"family_safe":      true,
	},
	"audience": map[string]any{
		"inferred_audience": []string{"General Audience"},
		"demographic_hint":  nil,
	},
	"commercial": map[string]any{
		"quality_tier": "Mid-tier",
		"volume_tier":  "Medium",
	},
	"concepts": []string{},
}

// CreateMessage implements anthropic.Client.
func (c *OfflineClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	var prompt string
	for _, m := range req.Messages {
		prompt += m.Content
	}

	var payload any = offlineResult
	if !strings.Contains(prompt, `"taxonomy"`) {
		for _, m := range subtaskMarkers {
			if strings.Contains(prompt, m.field) {
				payload = offlineResult[m.section]
				break
			}
		}
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &anthropic.MessageResponse{
		ID:         "offline-msg",
		Model:      req.Model,
		Content:    []anthropic.ContentBlock{{Type: "text", Text: string(text)}},
		StopReason: "end_turn",
	}, nil
}

// subtaskMarkers recognize the built-in subtask prompts by an output field
// name. Unified prompts are recognized by the "taxonomy" section key.
var subtaskMarkers = []struct {
	section string
	field   string
}{
	{"taxonomy", `"tier1"`},
	{"safety", `"garm_risk_rating"`},
	{"audience", `"inferred_audience"`},
	{"commercial", `"quality_tier"`},
}
