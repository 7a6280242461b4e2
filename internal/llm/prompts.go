package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/doppelhq/doppel/internal/config"
)

// TwinSystemPrompt builds the system prompt for the reply pipeline: persona
// attributes plus the retrieved long-term memories, formatted one per line.
func TwinSystemPrompt(persona config.PersonaConfig, memories []string) string {
	var b strings.Builder

	b.WriteString(`You are the user's digital twin, an AI-powered personal clone. Your goal is to understand the user as well as possible and to think and speak the way they do.

GROUND RULES:
1. Converse naturally and warmly with the user
2. Try to learn something new from every conversation (preferences, habits, ways of thinking)
3. Imitate the user's style, but stay genuine while doing it
4. Ask clarifying questions when you are not sure
5. Keep answers short and to the point, don't pad them
6. Answer in the language the user writes in
7. Use your memories naturally - NEVER say things like "it says so in my database"

USER PROFILE:`)
	b.WriteString("\n")

	if persona.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", persona.Name)
	}
	if len(persona.Traits) > 0 {
		fmt.Fprintf(&b, "Personality traits: %s\n", jsonCompact(persona.Traits))
	}
	if len(persona.Style) > 0 {
		fmt.Fprintf(&b, "Communication style: %s\n", jsonCompact(persona.Style))
	}
	if len(persona.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(persona.Interests, ", "))
	}
	if len(persona.LearnedFacts) > 0 {
		fmt.Fprintf(&b, "Learned facts: %s\n", jsonCompact(persona.LearnedFacts))
	}

	if len(memories) > 0 {
		b.WriteString("\nRELEVANT MEMORIES:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	b.WriteString("\nIMPORTANT: Weave the information above into natural conversation. Phrases like \"as I recall...\" or \"you mentioned before...\" are fine.")

	return b.String()
}

// AnalysisPrompt builds the extraction prompt for a single turn plus a short
// slice of recent context. The model is asked for a single JSON object.
func AnalysisPrompt(message string, recent []Message) string {
	context := ""
	if len(recent) > 0 {
		type turn struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		turns := make([]turn, len(recent))
		for i, m := range recent {
			turns[i] = turn{Role: m.Role, Content: m.Content}
		}
		if data, err := json.Marshal(turns); err == nil {
			context = fmt.Sprintf("PREVIOUS MESSAGES: %s\n", data)
		}
	}

	return fmt.Sprintf(`Analyze the message below and draw conclusions about the user.

MESSAGE: %q

%s
Return JSON in this exact format:
{
  "insights": [
    {
      "category": "personality|preference|behavior|memory",
      "key": "detected_attribute",
      "value": "value",
      "confidence": 0.0-1.0
    }
  ],
  "memories": [
    {
      "content": "information worth remembering (full sentence)",
      "summary": "short summary",
      "category": "fact|preference|experience|relationship|habit",
      "importance": 0.0-1.0
    }
  ]
}

RULES:
- Only include conclusions that are certain or highly likely
- Skip vague or generic information
- Record important personal details (names, dates, preferences) as memories
- If nothing meaningful can be inferred, return empty arrays
- Return ONLY the JSON object, no other text`, message, context)
}

func jsonCompact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
