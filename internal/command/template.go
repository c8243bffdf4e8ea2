// Package command resolves user-supplied engine command templates by
// substituting the INPUT and OUTPUT placeholders with workspace paths.
package command

import (
	"fmt"
	"strings"

	"github.com/book-expert/media-service/internal/core"
)

// Placeholder tokens recognised in a template.
const (
	PlaceholderInput  = "INPUT"
	PlaceholderOutput = "OUTPUT"
)

// Policy selects how much of a template the service trusts.
type Policy string

const (
	// PolicyStrict splits the template into an argument vector, rejects shell
	// metacharacters, and runs the engine without a shell.
	PolicyStrict Policy = "strict"
	// PolicyShell passes the resolved string to a shell verbatim.
	PolicyShell Policy = "shell"
)

const shellMetacharacters = ";&|<>$`\\\"'\n\r"

const (
	errMsgTemplateEmpty       = "command template cannot be empty"
	errFmtShellMetacharacter  = "command template contains disallowed character %q"
	errFmtUnknownPolicy       = "unknown command policy %q"
	errMsgBindingPathRequired = "input and output paths must be bound"
)

// Bindings are the concrete paths substituted for the placeholders.
type Bindings struct {
	Input  string
	Output string
}

// Template is an immutable command template.
type Template struct {
	raw string
}

// NewTemplate validates raw and wraps it. An empty or whitespace-only
// template is a validation error.
func NewTemplate(raw string) (Template, error) {
	if strings.TrimSpace(raw) == "" {
		return Template{}, core.NewValidationError(errMsgTemplateEmpty)
	}

	return Template{raw: raw}, nil
}

// Raw returns the template as received.
func (t Template) Raw() string {
	return t.raw
}

// Resolve substitutes every occurrence of each placeholder in a single
// left-to-right pass. Substituted paths are never rescanned, so a path that
// itself contains a placeholder token is inserted literally.
func (t Template) Resolve(bindings Bindings) (string, error) {
	replacer, err := newReplacer(bindings)
	if err != nil {
		return "", err
	}

	return replacer.Replace(t.raw), nil
}

// Argv splits the template on whitespace and resolves placeholders inside
// each argument. Templates containing shell metacharacters are rejected.
func (t Template) Argv(bindings Bindings) ([]string, error) {
	index := strings.IndexAny(t.raw, shellMetacharacters)
	if index >= 0 {
		return nil, core.NewValidationError(fmt.Sprintf(errFmtShellMetacharacter, t.raw[index]))
	}

	replacer, err := newReplacer(bindings)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(t.raw)
	args := make([]string, 0, len(fields))

	for _, field := range fields {
		args = append(args, replacer.Replace(field))
	}

	return args, nil
}

// ParsePolicy converts a configuration value into a Policy. The empty string
// selects PolicyStrict.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyShell:
		return PolicyShell, nil
	default:
		return "", fmt.Errorf(errFmtUnknownPolicy, value)
	}
}

func newReplacer(bindings Bindings) (*strings.Replacer, error) {
	if bindings.Input == "" || bindings.Output == "" {
		return nil, core.NewValidationError(errMsgBindingPathRequired)
	}

	return strings.NewReplacer(
		PlaceholderInput, bindings.Input,
		PlaceholderOutput, bindings.Output,
	), nil
}
