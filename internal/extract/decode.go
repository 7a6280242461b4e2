package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Analysis is the structured result mined from one conversation turn.
type Analysis struct {
	Insights []InsightCandidate `json:"insights"`
	Memories []MemoryCandidate  `json:"memories"`
}

// InsightCandidate is one proposed observation about the user.
type InsightCandidate struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// MemoryCandidate is one proposed long-term memory.
type MemoryCandidate struct {
	Content    string  `json:"content"`
	Summary    string  `json:"summary"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
}

// analysisSchema rejects responses whose shape drifted from the contract:
// wrong types, out-of-range scores, or unknown memory categories. Extra
// top-level fields (e.g. suggestedQuestions) are tolerated and ignored.
const analysisSchema = `{
  "type": "object",
  "properties": {
    "insights": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "category": {"type": "string"},
          "key": {"type": "string"},
          "value": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["category", "key", "value", "confidence"]
      }
    },
    "memories": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "content": {"type": "string", "minLength": 1},
          "summary": {"type": "string"},
          "category": {"enum": ["fact", "preference", "experience", "relationship", "habit"]},
          "importance": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["content", "category", "importance"]
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("analysis.json", analysisSchema)

// decodeAnalysis extracts and validates the JSON object embedded in a model
// response. Any mismatch is an error; callers fail closed to an empty
// Analysis and never surface the problem past a log line.
func decodeAnalysis(content string) (*Analysis, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	jsonStr := content[start : end+1]

	var raw any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate analysis: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(jsonStr), &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &analysis, nil
}
