package tools

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// inputSchema is the subset of JSON Schema the tools actually declare:
// flat object schemas with typed properties, enums and a required list.
type inputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required"`
}

type property struct {
	Type string `json:"type"`
	Enum []any  `json:"enum"`
}

// ValidateArguments checks args against a tool's input schema before the
// tool runs: required fields must be present, declared types must match,
// enum values must be members. Failures carry code -32602.
func ValidateArguments(schemaRaw, args json.RawMessage) error {
	if len(schemaRaw) == 0 {
		return nil
	}

	var schema inputSchema
	if err := json.Unmarshal(schemaRaw, &schema); err != nil {
		// A tool with a broken schema is a programming error; let the
		// call proceed rather than reject every invocation.
		return nil
	}
	if schema.Type != "object" {
		return nil
	}

	fields := make(map[string]json.RawMessage)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &fields); err != nil {
			return NewInvalidParamsError("arguments must be an object")
		}
	}

	for _, name := range schema.Required {
		if _, ok := fields[name]; !ok {
			return NewInvalidParamsError("missing required argument: %s", name)
		}
	}

	for name, raw := range fields {
		prop, declared := schema.Properties[name]
		if !declared {
			continue
		}
		if err := checkType(name, prop.Type, raw); err != nil {
			return err
		}
		if err := checkEnum(name, prop.Enum, raw); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, want string, raw json.RawMessage) error {
	value := strings.TrimSpace(string(raw))
	if value == "null" || want == "" {
		return nil
	}

	ok := false
	switch want {
	case "string":
		ok = strings.HasPrefix(value, `"`)
	case "boolean":
		ok = value == "true" || value == "false"
	case "integer":
		_, err := strconv.ParseInt(value, 10, 64)
		ok = err == nil
	case "number":
		_, err := strconv.ParseFloat(value, 64)
		ok = err == nil
	case "array":
		ok = strings.HasPrefix(value, "[")
	case "object":
		ok = strings.HasPrefix(value, "{")
	default:
		return nil
	}

	if !ok {
		return NewInvalidParamsError("argument %s must be of type %s", name, want)
	}
	return nil
}

func checkEnum(name string, enum []any, raw json.RawMessage) error {
	if len(enum) == 0 {
		return nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return NewInvalidParamsError("argument %s is not valid JSON", name)
	}
	for _, allowed := range enum {
		if reflect.DeepEqual(value, allowed) {
			return nil
		}
	}
	return NewInvalidParamsError("argument %s must be one of %v", name, enum)
}
