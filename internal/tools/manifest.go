package tools

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk tool declaration file (tools.yaml).
type Manifest struct {
	Tools []Descriptor `yaml:"tools"`
}

// Descriptor declares one tool. Either Binding names a built-in
// implementation, or Command gives a shell template with {{.arg}}
// placeholders.
type Descriptor struct {
	Name           string                 `yaml:"name"`
	Description    string                 `yaml:"description"`
	Binding        string                 `yaml:"binding,omitempty"`
	Command        string                 `yaml:"command,omitempty"`
	WorkingDir     string                 `yaml:"working_dir,omitempty"`
	TimeoutSeconds int                    `yaml:"timeout_seconds,omitempty"`
	Parameters     map[string]interface{} `yaml:"parameters,omitempty"`
}

// LoadManifest parses a YAML manifest and registers the declared tools.
// builtins maps binding names to implementations. Errors are fatal for the
// registry: *ManifestError for parse/consistency problems, wrapping
// ErrBindingNotFound when a named binding cannot be resolved.
func LoadManifest(path string, builtins map[string]Tool, reg *Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ManifestError{Path: path, Err: err}
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return &ManifestError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}

	seen := make(map[string]bool, len(m.Tools))
	for _, desc := range m.Tools {
		if desc.Name == "" {
			return &ManifestError{Path: path, Err: fmt.Errorf("tool entry without a name")}
		}
		if seen[desc.Name] {
			return &ManifestError{Path: path, Err: fmt.Errorf("duplicate tool name %q", desc.Name)}
		}
		seen[desc.Name] = true

		if err := checkSchema(desc.Parameters); err != nil {
			return &ManifestError{Path: path, Err: fmt.Errorf("tool %q: %w", desc.Name, err)}
		}

		tool, err := resolve(desc, builtins)
		if err != nil {
			return &ManifestError{Path: path, Err: err}
		}
		if err := reg.Register(tool); err != nil {
			return &ManifestError{Path: path, Err: err}
		}
	}
	return nil
}

// resolve turns a descriptor into a Tool: a command template, or a bound
// built-in with optional name/description/schema overrides.
func resolve(desc Descriptor, builtins map[string]Tool) (Tool, error) {
	switch {
	case desc.Command != "":
		return NewCommandTool(desc), nil
	case desc.Binding != "":
		impl, ok := builtins[desc.Binding]
		if !ok {
			return nil, fmt.Errorf("tool %q: %w: %q", desc.Name, ErrBindingNotFound, desc.Binding)
		}
		return bind(desc, impl), nil
	default:
		return nil, fmt.Errorf("tool %q: needs either a binding or a command template", desc.Name)
	}
}

// checkSchema rejects parameter blocks that are not object schemas.
func checkSchema(params map[string]interface{}) error {
	if params == nil {
		return nil
	}
	if t, ok := params["type"].(string); ok && t != "object" {
		return fmt.Errorf("parameters schema must have type object, got %q", t)
	}
	if props, present := params["properties"]; present {
		if _, ok := props.(map[string]interface{}); !ok {
			return fmt.Errorf("parameters properties must be a mapping")
		}
	}
	return nil
}

// boundTool wraps a built-in implementation with manifest overrides. It
// forwards the lifecycle and shell interfaces of the underlying tool.
type boundTool struct {
	impl Tool
	desc Descriptor
}

func bind(desc Descriptor, impl Tool) Tool {
	return &boundTool{impl: impl, desc: desc}
}

func (b *boundTool) Name() string { return b.desc.Name }

func (b *boundTool) Description() string {
	if b.desc.Description != "" {
		return b.desc.Description
	}
	return b.impl.Description()
}

func (b *boundTool) Parameters() map[string]interface{} {
	if b.desc.Parameters != nil {
		return b.desc.Parameters
	}
	return b.impl.Parameters()
}

func (b *boundTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return b.impl.Execute(ctx, args)
}

func (b *boundTool) ShellCommand(args map[string]interface{}) (string, bool) {
	if sc, ok := b.impl.(ShellCommander); ok {
		return sc.ShellCommand(args)
	}
	return "", false
}

func (b *boundTool) Start(ctx context.Context) error {
	if s, ok := b.impl.(Starter); ok {
		return s.Start(ctx)
	}
	return nil
}

func (b *boundTool) Stop(ctx context.Context) error {
	if s, ok := b.impl.(Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}

func (b *boundTool) InvokeTimeout() time.Duration {
	if b.desc.TimeoutSeconds > 0 {
		return time.Duration(b.desc.TimeoutSeconds) * time.Second
	}
	if ta, ok := b.impl.(TimeoutAware); ok {
		return ta.InvokeTimeout()
	}
	return 0
}
