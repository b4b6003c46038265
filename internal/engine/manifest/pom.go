package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

type pomDependency struct {
	group, name, version, scope string
	optional                    bool
	line                        int
}

const (
	pathDependency        = "project/dependencies/dependency"
	pathManagedDependency = "project/dependencyManagement/dependencies/dependency"
)

func parsePOM(path string, data []byte) (*Manifest, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		stack   []string
		text    strings.Builder
		cur     *pomDependency
		deps    []pomDependency
		managed []pomDependency
		module  Declaration
		parent  Declaration
		modules []string
		props   = make(map[string]string)
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := dec.InputPos()
			return nil, &ParseError{Path: path, Line: line, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			text.Reset()
			p := strings.Join(stack, "/")
			if p == pathDependency || p == pathManagedDependency {
				line, _ := dec.InputPos()
				cur = &pomDependency{line: line}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, &ParseError{Path: path, Err: fmt.Errorf("unbalanced element %q", t.Name.Local)}
			}
			p := strings.Join(stack, "/")
			val := strings.TrimSpace(text.String())
			switch {
			case p == "project/groupId":
				module.Group = val
			case p == "project/artifactId":
				module.Name = val
			case p == "project/version":
				module.Version = val
			case p == "project/parent/groupId":
				parent.Group = val
			case p == "project/parent/artifactId":
				parent.Name = val
			case p == "project/parent/version":
				parent.Version = val
			case p == "project/modules/module":
				if val != "" {
					modules = append(modules, val)
				}
			case len(stack) == 3 && stack[1] == "properties":
				props[stack[2]] = val
			case p == pathDependency:
				deps = append(deps, *cur)
				cur = nil
			case p == pathManagedDependency:
				managed = append(managed, *cur)
				cur = nil
			case cur != nil && len(stack) > 1:
				// Only direct children; exclusions carry their own groupId.
				if owner := strings.Join(stack[:len(stack)-1], "/"); owner == pathDependency || owner == pathManagedDependency {
					applyDependencyField(cur, stack[len(stack)-1], val)
				}
			}
			stack = stack[:len(stack)-1]
			text.Reset()
		}
	}

	if len(stack) != 0 {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unexpected end of document")}
	}
	if module.Name == "" {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("missing project artifactId")}
	}

	if module.Group == "" {
		module.Group = parent.Group
	}
	if module.Version == "" {
		module.Version = parent.Version
	}
	props["project.groupId"] = module.Group
	props["project.artifactId"] = module.Name
	props["project.version"] = module.Version
	props["pom.version"] = module.Version
	props["project.parent.version"] = parent.Version
	props["project.parent.groupId"] = parent.Group

	m := &Manifest{
		Path:       path,
		Format:     FormatMaven,
		Modules:    modules,
		Managed:    make(map[string]Declaration),
		Properties: props,
	}
	module.Version = interpolate(module.Version, props)
	m.Module = &module
	if !parent.IsZero() {
		parent.Version = interpolate(parent.Version, props)
		m.Parent = &parent
	}

	for _, d := range managed {
		decl := d.declaration(props)
		m.Managed[decl.Key()] = decl
	}
	for _, d := range deps {
		decl := d.declaration(props)
		if decl.Version == "" {
			if mv, ok := m.Managed[decl.Key()]; ok {
				decl.Version = mv.Version
				if d.scope == "" && mv.Scope != "" {
					decl.Scope = mv.Scope
				}
			}
		}
		m.Declarations = append(m.Declarations, decl)
	}
	return m, nil
}

func applyDependencyField(d *pomDependency, field, val string) {
	switch field {
	case "groupId":
		d.group = val
	case "artifactId":
		d.name = val
	case "version":
		d.version = val
	case "scope":
		d.scope = val
	case "optional":
		d.optional = strings.EqualFold(val, "true")
	}
}

func (d pomDependency) declaration(props map[string]string) Declaration {
	scope := d.scope
	if scope == "" {
		scope = DefaultScope
	}
	return Declaration{
		Group:    interpolate(d.group, props),
		Name:     interpolate(d.name, props),
		Version:  interpolate(d.version, props),
		Scope:    scope,
		Optional: d.optional,
		Line:     d.line,
	}
}

var propertyRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolate expands ${name} references; unknown references are kept.
func interpolate(value string, props map[string]string) string {
	for i := 0; i < 5 && strings.Contains(value, "${"); i++ {
		next := propertyRef.ReplaceAllStringFunc(value, func(ref string) string {
			name := ref[2 : len(ref)-1]
			if v, ok := props[name]; ok && v != "" {
				return v
			}
			return ref
		})
		if next == value {
			break
		}
		value = next
	}
	return value
}
