package tools

// Keywords whose value is a single subschema.
var subschemaKeys = []string{
	"additionalItems", "contains", "not", "if", "then", "else",
	"propertyNames", "unevaluatedItems", "unevaluatedProperties",
}

// Keywords whose value is an array of subschemas.
var subschemaListKeys = []string{"oneOf", "anyOf", "allOf", "prefixItems"}

// Keywords whose value is a map of name to subschema.
var subschemaMapKeys = []string{"properties", "definitions", "$defs", "patternProperties", "dependentSchemas"}

// NormalizeSchema returns a deep copy of schema in which every object-typed
// node forbids additional properties, at any depth. An existing
// additionalProperties value on an object node is replaced by false.
// The input is not modified.
func NormalizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		}
	}
	return normalizeNode(schema)
}

func normalizeNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node)+1)
	for k, v := range node {
		out[k] = deepCopy(v)
	}

	for _, key := range subschemaKeys {
		if sub, ok := out[key].(map[string]any); ok {
			out[key] = normalizeNode(sub)
		}
	}
	for _, key := range subschemaListKeys {
		if list, ok := out[key].([]any); ok {
			out[key] = normalizeList(list)
		}
	}
	for _, key := range subschemaMapKeys {
		if m, ok := out[key].(map[string]any); ok {
			out[key] = normalizeMap(m)
		}
	}

	switch items := out["items"].(type) {
	case map[string]any:
		out["items"] = normalizeNode(items)
	case []any:
		out["items"] = normalizeList(items)
	}

	// Legacy "dependencies" mixes property-name arrays with schemas.
	if deps, ok := out["dependencies"].(map[string]any); ok {
		for name, dep := range deps {
			if sub, ok := dep.(map[string]any); ok {
				deps[name] = normalizeNode(sub)
			}
		}
	}

	if isObjectNode(out) {
		out["additionalProperties"] = false
	}
	return out
}

func normalizeList(list []any) []any {
	for i, v := range list {
		if sub, ok := v.(map[string]any); ok {
			list[i] = normalizeNode(sub)
		}
	}
	return list
}

func normalizeMap(m map[string]any) map[string]any {
	for name, v := range m {
		if sub, ok := v.(map[string]any); ok {
			m[name] = normalizeNode(sub)
		}
	}
	return m
}

func isObjectNode(node map[string]any) bool {
	switch t := node["type"].(type) {
	case string:
		if t == "object" {
			return true
		}
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "object" {
				return true
			}
		}
	case []string:
		for _, s := range t {
			if s == "object" {
				return true
			}
		}
	}
	_, hasProps := node["properties"]
	return hasProps
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = deepCopy(vv)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// StrictCompatible reports whether schema can be sent to a provider that
// enforces strict function schemas: every object node at any depth must
// list all of its properties in required and forbid additional properties.
func StrictCompatible(schema map[string]any) bool {
	if schema == nil {
		return false
	}
	return strictNode(schema)
}

func strictNode(node map[string]any) bool {
	if isObjectNode(node) {
		if node["additionalProperties"] != false {
			return false
		}
		props, _ := node["properties"].(map[string]any)
		required := requiredSet(node["required"])
		for name := range props {
			if !required[name] {
				return false
			}
		}
	}

	for _, key := range subschemaKeys {
		if sub, ok := node[key].(map[string]any); ok && !strictNode(sub) {
			return false
		}
	}
	for _, key := range subschemaListKeys {
		if list, ok := node[key].([]any); ok && !strictList(list) {
			return false
		}
	}
	for _, key := range subschemaMapKeys {
		if m, ok := node[key].(map[string]any); ok {
			for _, v := range m {
				if sub, ok := v.(map[string]any); ok && !strictNode(sub) {
					return false
				}
			}
		}
	}
	switch items := node["items"].(type) {
	case map[string]any:
		return strictNode(items)
	case []any:
		return strictList(items)
	}
	return true
}

func strictList(list []any) bool {
	for _, v := range list {
		if sub, ok := v.(map[string]any); ok && !strictNode(sub) {
			return false
		}
	}
	return true
}

func requiredSet(v any) map[string]bool {
	set := make(map[string]bool)
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				set[s] = true
			}
		}
	case []string:
		for _, s := range list {
			set[s] = true
		}
	}
	return set
}
