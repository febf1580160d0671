package advice

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// SystemPrompt frames the stop interval question
const SystemPrompt = `You are a road trip planning assistant. Given a traveler's vehicle and, when known, the trip length, recommend how far apart rest and refuel stops should be.

Guidelines:
- Bicycles and electric bicycles need frequent stops (30-60 km).
- Electric cars are limited by charging; stay well inside a typical range (60-120 km).
- Cars usually stop every 100-150 km for fuel and driver rest.
- Buses can go longer between stops (120-200 km).
- Never recommend an interval longer than the trip itself when the trip length is given.

Return valid JSON with these exact fields:
- recommended_pitstop_km (number) - distance between stops in kilometers
- reason (string) - one short sentence explaining the recommendation`

// SuggestionSchema is the structured output schema for a Suggestion
var SuggestionSchema = openai.ChatCompletionResponseFormatJSONSchema{
	Name:   "pitstop_advice",
	Strict: true,
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"recommended_pitstop_km": {
				"type": "number",
				"description": "Recommended distance between stops in kilometers"
			},
			"reason": {
				"type": "string",
				"description": "One short sentence explaining the recommendation"
			}
		},
		"required": ["recommended_pitstop_km", "reason"],
		"additionalProperties": false
	}`),
}
