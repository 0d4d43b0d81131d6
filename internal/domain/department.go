package domain

import "strings"

// Departments is the set of valid target departments for routing feedback.
type Departments struct {
	names map[string]string
}

// NewDepartments builds the registry from configured names.
func NewDepartments(names []string) Departments {
	d := Departments{names: make(map[string]string, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		d.names[strings.ToLower(name)] = name
	}
	return d
}

// Resolve returns the canonical department name. An empty registry accepts any
// non-empty name.
func (d Departments) Resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if len(d.names) == 0 {
		return name, true
	}
	canonical, ok := d.names[strings.ToLower(name)]
	return canonical, ok
}

// Names lists the registered departments.
func (d Departments) Names() []string {
	out := make([]string, 0, len(d.names))
	for _, name := range d.names {
		out = append(out, name)
	}
	return out
}
