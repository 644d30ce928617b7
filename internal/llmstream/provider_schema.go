package llmstream

// toolInputSchema builds a plain JSON Schema object (type/properties/required) from a
// ToolInfo's Parameters/Required, suitable for providers (Anthropic, Gemini) that accept an
// ordinary JSON Schema rather than OpenAI's strict-mode dialect. Callers must not mutate the
// returned map's "properties" entries; they are copied from info.Parameters by reference.
func toolInputSchema(info ToolInfo) map[string]any {
	schema := map[string]any{
		"type": "object",
	}
	if len(info.Parameters) > 0 {
		schema["properties"] = info.Parameters
	} else {
		schema["properties"] = map[string]any{}
	}
	if len(info.Required) > 0 {
		schema["required"] = info.Required
	}
	return schema
}
