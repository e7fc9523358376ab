package suite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/parity/packages/core/env"
)

// ValidationError describes one problem in a suite definition.
type ValidationError struct {
	Endpoint string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Endpoint == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// Validate checks that every endpoint has a unique name and a path, and
// that every placeholder is bound by a suite variable, an enclosing
// expansion or one of known, skipped endpoints excepted. Placeholders starting with $ read the
// process environment and are always accepted.
func (s *Suite) Validate(known ...string) []*ValidationError {
	v := &validator{names: map[string]bool{}}

	scope := map[string]bool{}
	for name := range s.Variables {
		scope[name] = true
	}
	for _, name := range known {
		scope[name] = true
	}

	if len(s.Endpoints) == 0 {
		v.add("", "suite has no endpoints")
	}
	v.endpoints(s.Endpoints, scope)
	return v.errs
}

type validator struct {
	names map[string]bool
	errs  []*ValidationError
}

func (v *validator) add(endpoint, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Endpoint: endpoint, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) endpoints(endpoints []*Endpoint, scope map[string]bool) {
	for i, e := range endpoints {
		label := e.Name
		if label == "" {
			label = fmt.Sprintf("endpoint #%d", i+1)
			v.add(label, "missing name")
		} else if v.names[e.Name] {
			v.add(label, "duplicate endpoint name")
		}
		v.names[e.Name] = true

		if strings.TrimSpace(e.Path) == "" {
			v.add(label, "missing path")
		}
		switch e.Compare {
		case "", ModeBody, ModeStatus:
		default:
			v.add(label, "unknown compare mode %q", e.Compare)
		}
		if e.Repeat < 0 {
			v.add(label, "repeat must not be negative")
		}
		if e.When != "" && !scope[e.When] {
			v.add(label, "when refers to unbound variable %q", e.When)
		}

		// skipped endpoints are never requested
		if e.Skip == "" {
			templates := []string{e.Path}
			for _, p := range e.Params {
				templates = append(templates, p)
			}
			for _, name := range unbound(templates, scope) {
				v.add(label, "unresolved variable %q", name)
			}
		}

		for _, x := range e.Children {
			v.expansion(label, x, scope)
		}
	}
}

func (v *validator) expansion(parent string, x *Expansion, scope map[string]bool) {
	if x.Each == "" {
		v.add(parent, "child expansion is missing each")
	}
	if x.As == "" {
		v.add(parent, "child expansion is missing as")
	}
	if len(x.Endpoints) == 0 {
		v.add(parent, "child expansion has no endpoints")
	}

	inner := make(map[string]bool, len(scope)+len(x.Capture)+1)
	for name := range scope {
		inner[name] = true
	}
	if x.As != "" {
		inner[x.As] = true
	}
	for name := range x.Capture {
		inner[name] = true
	}
	v.endpoints(x.Endpoints, inner)
}

func unbound(templates []string, scope map[string]bool) []string {
	seen := map[string]bool{}
	for _, t := range templates {
		for _, name := range env.Placeholders(t) {
			if strings.HasPrefix(name, "$") || scope[name] {
				continue
			}
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
