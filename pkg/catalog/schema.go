// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"

	"github.com/wardenhq/warden/pkg/errors"
)

// ValidateArgs checks args against a JSON-schema-shaped parameter object:
// required properties must be present and declared property types must
// match. Extra arguments are tolerated; the engine occasionally invents
// them and handlers ignore what they don't read.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	properties, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return invalidArg(fmt.Sprintf("missing required argument %q", name))
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, raw := range required {
			name, _ := raw.(string)
			if _, present := args[name]; !present {
				return invalidArg(fmt.Sprintf("missing required argument %q", name))
			}
		}
	}

	for name, value := range args {
		spec, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := spec["type"].(string)
		if declared == "" {
			continue
		}
		if err := checkType(name, declared, value); err != nil {
			return err
		}
		if err := checkEnum(name, spec, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, declared string, value any) error {
	switch declared {
	case "string":
		if _, ok := value.(string); !ok {
			return typeMismatch(name, declared, value)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return typeMismatch(name, declared, value)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return typeMismatch(name, declared, value)
			}
		default:
			return typeMismatch(name, declared, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeMismatch(name, declared, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			if _, ok := value.([]string); !ok {
				return typeMismatch(name, declared, value)
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return typeMismatch(name, declared, value)
		}
	}
	return nil
}

func checkEnum(name string, spec map[string]any, value any) error {
	raw, ok := spec["enum"]
	if !ok {
		return nil
	}
	var allowed []any
	switch v := raw.(type) {
	case []any:
		allowed = v
	case []string:
		for _, s := range v {
			allowed = append(allowed, s)
		}
	default:
		return nil
	}
	for _, candidate := range allowed {
		if candidate == value {
			return nil
		}
	}
	return invalidArg(fmt.Sprintf("argument %q value %v is not one of %v", name, value, allowed))
}

func typeMismatch(name, declared string, value any) error {
	return invalidArg(fmt.Sprintf("argument %q should be %s, got %T", name, declared, value))
}

func invalidArg(msg string) error {
	return errors.New(errors.CodeInvalidInput, msg, nil)
}

// ObjectSchema is a small helper for building the common object-typed
// parameter schemas tools declare.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
