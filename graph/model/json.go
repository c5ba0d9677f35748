package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSONObject extracts a JSON object from a model reply.
//
// Markdown code fences are stripped, and text around the outermost braces is
// ignored. Malformed JSON (trailing commas, single quotes, missing brackets) is
// repaired before giving up.
func ParseJSONObject(text string) (map[string]interface{}, error) {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	if start < 0 {
		return nil, fmt.Errorf("reply contains no JSON object")
	}
	content = content[start:]
	if end := strings.LastIndex(content, "}"); end >= 0 && end < len(content)-1 {
		content = content[:end+1]
	}

	var out map[string]interface{}
	err := json.Unmarshal([]byte(content), &out)
	if err == nil {
		if out == nil {
			return nil, fmt.Errorf("reply is not a JSON object")
		}
		return out, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(content)
	if repairErr != nil {
		return nil, fmt.Errorf("invalid JSON reply: %w (repair failed: %v)", err, repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON reply after repair: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("reply is not a JSON object")
	}
	return out, nil
}
