package toolsets

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/turnstile/turnstile/internal/llmstream"
)

// ErrInvalidArguments is wrapped by ValidateArguments when call.Input fails the tool's
// declared parameter schema.
var ErrInvalidArguments = fmt.Errorf("invalid arguments")

// schemaCache compiles each tool's ToolInfo.Parameters into a JSON Schema once and
// reuses it across calls; compilation is not free and a tool's schema never changes
// across the lifetime of a process.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

var globalSchemaCache = &schemaCache{schemas: make(map[string]*jsonschema.Schema)}

// ValidateArguments validates rawInput (a tool call's raw JSON input) against tool's
// declared ToolInfo.Parameters/Required, compiling and caching the schema by tool
// name on first use. It returns a wrapped ErrInvalidArguments when rawInput doesn't
// unmarshal as JSON or fails schema validation; callers should turn that into a
// ToolResult{IsError: true} without ever calling Run.
func ValidateArguments(tool llmstream.Tool, rawInput string) error {
	var payload any
	if err := json.Unmarshal([]byte(rawInput), &payload); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}

	schema, err := globalSchemaCache.get(tool)
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", tool.Name(), err)
	}
	if schema == nil {
		return nil // tool declares no parameters; any JSON object is accepted
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}
	return nil
}

func (c *schemaCache) get(tool llmstream.Tool) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := tool.Name()
	if schema, ok := c.schemas[name]; ok {
		return schema, nil
	}

	info := tool.Info()
	if len(info.Parameters) == 0 {
		c.schemas[name] = nil
		return nil, nil
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           info.Parameters,
		"additionalProperties": false,
	}
	if len(info.Required) > 0 {
		doc["required"] = info.Required
	}

	resourceName := "tool:" + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	c.schemas[name] = schema
	return schema, nil
}
