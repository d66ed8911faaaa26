package tools

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks tool arguments against their input schemas. Compiled
// schemas are cached per tool name; descriptors are immutable after registry
// construction so the cache never goes stale.
type Validator struct {
	cache sync.Map
}

// Validate checks args (decoded JSON) against schema.
func (v *Validator) Validate(name string, schema map[string]any, args any) error {
	compiled, err := v.compile(name, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	if err := compiled.Validate(args); err != nil {
		return fmt.Errorf("arguments invalid: %w", err)
	}
	return nil
}

func (v *Validator) compile(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if cached, ok := v.cache.Load(name); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	payload, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(payload))
	if err != nil {
		return nil, err
	}
	v.cache.Store(name, compiled)
	return compiled, nil
}
