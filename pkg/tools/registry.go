package tools

import (
	"context"
	"fmt"
	"log/slog"

	"spendbot/pkg/api"
	"spendbot/pkg/mcp"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Provenance records where a tool is executed.
type Provenance string

const (
	ProvenanceRemote Provenance = "remote"
	ProvenanceCustom Provenance = "custom"
)

// Descriptor is the model-facing definition of a tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
	Strict      bool
	Provenance  Provenance
}

// Session is what a custom tool sees of the current turn: the caller's
// identity and the transport the message came from.
type Session struct {
	api.SessionContext
	Transport api.MessageResponder
}

// Handler is an in-process tool. Handle returns either a resolved result or
// a Pending continuation.
type Handler interface {
	Descriptor() Descriptor
	Handle(ctx context.Context, sess Session, args map[string]any) (Outcome, error)
}

// Options tune registry construction.
type Options struct {
	// NonStrict names tools whose schema violations are tolerated.
	NonStrict []string
	// Hidden names remote tools that stay callable but are not offered to the model.
	Hidden []string
}

// Registry is the merged catalog of remote and custom tools. It is
// read-only after construction.
type Registry struct {
	ordered   []Descriptor
	byName    map[string]Descriptor
	custom    map[string]Handler
	hidden    map[string]bool
	validator *Validator
}

// Connect lists the provider's tools and builds the registry. A listing
// failure is fatal and wraps api.ErrConnection.
func Connect(ctx context.Context, lister api.ToolLister, custom []Handler, opts Options) (*Registry, error) {
	remote, err := lister.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrConnection, err)
	}
	return NewRegistry(remote, custom, opts)
}

// NewRegistry merges remote descriptors and custom handlers. Remote input
// schemas are normalized. A custom name that repeats any earlier name fails
// with api.ErrNameCollision.
func NewRegistry(remote []mcp.Tool, custom []Handler, opts Options) (*Registry, error) {
	nonStrict := toSet(opts.NonStrict)
	r := &Registry{
		byName:    make(map[string]Descriptor, len(remote)+len(custom)),
		custom:    make(map[string]Handler, len(custom)),
		hidden:    toSet(opts.Hidden),
		validator: &Validator{},
	}

	for _, t := range remote {
		if t.Name == "" {
			continue
		}
		if _, dup := r.byName[t.Name]; dup {
			slog.Warn("Duplicate remote tool ignored", "name", t.Name)
			continue
		}
		d := Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  NormalizeSchema(t.InputSchema),
			Strict:      !nonStrict[t.Name],
			Provenance:  ProvenanceRemote,
		}
		r.byName[d.Name] = d
		r.ordered = append(r.ordered, d)
	}

	for _, h := range custom {
		d := h.Descriptor()
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: %q", api.ErrNameCollision, d.Name)
		}
		d.Provenance = ProvenanceCustom
		if nonStrict[d.Name] {
			d.Strict = false
		}
		if d.Parameters == nil {
			d.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		r.byName[d.Name] = d
		r.custom[d.Name] = h
		r.ordered = append(r.ordered, d)
	}

	slog.Info("Tool registry ready", "remote", len(r.ordered)-len(r.custom), "custom", len(r.custom), "hidden", len(r.hidden))
	return r, nil
}

// Descriptors returns the model-visible tools in catalog order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.ordered))
	for _, d := range r.ordered {
		if r.hidden[d.Name] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// All returns every registered tool, hidden ones included.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Lookup finds a descriptor by name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Custom returns the in-process handler for name.
func (r *Registry) Custom(name string) (Handler, bool) {
	h, ok := r.custom[name]
	return h, ok
}

// IsRemote reports whether name is executed by the tool-provider.
func (r *Registry) IsRemote(name string) bool {
	d, ok := r.byName[name]
	return ok && d.Provenance == ProvenanceRemote
}

// Subset returns a registry restricted to names, all of which must be
// remote tools. Hidden flags do not carry over.
func (r *Registry) Subset(names []string) (*Registry, error) {
	sub := &Registry{
		byName:    make(map[string]Descriptor, len(names)),
		custom:    map[string]Handler{},
		hidden:    map[string]bool{},
		validator: r.validator,
	}
	for _, name := range names {
		d, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("tool %q not found", name)
		}
		if d.Provenance != ProvenanceRemote {
			return nil, fmt.Errorf("tool %q is not a remote tool", name)
		}
		if _, dup := sub.byName[name]; dup {
			continue
		}
		sub.byName[name] = d
		sub.ordered = append(sub.ordered, d)
	}
	return sub, nil
}

// Validate checks args against the tool's schema. enforce is false for
// non-strict tools, whose violations should only be logged.
func (r *Registry) Validate(name string, args map[string]any) (err error, enforce bool) {
	d, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("tool %q not found", name), true
	}
	if len(d.Parameters) == 0 {
		return nil, d.Strict
	}
	var decoded any = args
	if args == nil {
		decoded = map[string]any{}
	}
	return r.validator.Validate(name, d.Parameters, decoded), d.Strict
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
