package worker

import "encoding/json"

// Payload is the worker-side reading of a request's opaque payload
// string, decided exactly once at the boundary: either a structured
// JSON object carrying a model selector and prompt, or the raw string
// used as the prompt itself.
type Payload struct {
	Structured bool
	Model      string // empty means the worker default
	Prompt     string
}

// DecodePayload interprets raw. A JSON object yields the structured
// variant (absent fields stay empty); anything else is the raw variant
// with the whole string as prompt.
func DecodePayload(raw string) Payload {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj != nil {
		model, _ := obj["model"].(string)
		prompt, _ := obj["prompt"].(string)
		return Payload{Structured: true, Model: model, Prompt: prompt}
	}
	return Payload{Prompt: raw}
}
