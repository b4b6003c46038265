package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type versionCatalog struct {
	Versions  map[string]string         `toml:"versions"`
	Libraries map[string]toml.Primitive `toml:"libraries"`
}

type catalogLibrary struct {
	Module  string         `toml:"module"`
	Group   string         `toml:"group"`
	Name    string         `toml:"name"`
	Version catalogVersion `toml:"version"`
}

// catalogVersion accepts both `version = "1.0"` and `version.ref = "x"`.
type catalogVersion struct {
	Value string
	Ref   string
}

func (v *catalogVersion) UnmarshalTOML(data any) error {
	switch val := data.(type) {
	case string:
		v.Value = val
	case map[string]any:
		if ref, ok := val["ref"].(string); ok {
			v.Ref = ref
		}
		if req, ok := val["require"].(string); ok {
			v.Value = req
		} else if strict, ok := val["strictly"].(string); ok {
			v.Value = strict
		}
	default:
		return fmt.Errorf("unsupported version value %T", data)
	}
	return nil
}

func parseCatalog(path string, data []byte) (*Manifest, error) {
	var cat versionCatalog
	md, err := toml.Decode(string(data), &cat)
	if err != nil {
		line := 0
		var perr toml.ParseError
		if errors.As(err, &perr) {
			line = perr.Position.Line
		}
		return nil, &ParseError{Path: path, Line: line, Err: err}
	}

	m := &Manifest{Path: path, Format: FormatCatalog}
	aliases := make([]string, 0, len(cat.Libraries))
	for alias := range cat.Libraries {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		prim := cat.Libraries[alias]
		decl := Declaration{Scope: DefaultScope, Line: lineOfKey(data, alias)}

		var short string
		if err := md.PrimitiveDecode(prim, &short); err == nil {
			parts := strings.Split(short, ":")
			if len(parts) < 2 {
				return nil, &ParseError{Path: path, Line: decl.Line, Err: fmt.Errorf("library %q: invalid notation %q", alias, short)}
			}
			decl.Group, decl.Name = parts[0], parts[1]
			if len(parts) > 2 {
				decl.Version = parts[2]
			}
			m.Declarations = append(m.Declarations, decl)
			continue
		}

		var lib catalogLibrary
		if err := md.PrimitiveDecode(prim, &lib); err != nil {
			return nil, &ParseError{Path: path, Line: decl.Line, Err: fmt.Errorf("library %q: %w", alias, err)}
		}
		if lib.Module != "" {
			group, name, ok := strings.Cut(lib.Module, ":")
			if !ok {
				return nil, &ParseError{Path: path, Line: decl.Line, Err: fmt.Errorf("library %q: invalid module %q", alias, lib.Module)}
			}
			decl.Group, decl.Name = group, name
		} else {
			decl.Group, decl.Name = lib.Group, lib.Name
		}
		decl.Version = lib.Version.Value
		if lib.Version.Ref != "" {
			decl.Version = cat.Versions[lib.Version.Ref]
		}
		if decl.Group == "" || decl.Name == "" {
			return nil, &ParseError{Path: path, Line: decl.Line, Err: fmt.Errorf("library %q: missing coordinates", alias)}
		}
		m.Declarations = append(m.Declarations, decl)
	}
	return m, nil
}

// lineOfKey finds the 1-based line where a catalog alias is declared.
func lineOfKey(data []byte, key string) int {
	for i, line := range bytes.Split(data, []byte("\n")) {
		trimmed := strings.TrimSpace(string(line))
		if strings.HasPrefix(trimmed, key) {
			rest := strings.TrimSpace(trimmed[len(key):])
			if strings.HasPrefix(rest, "=") {
				return i + 1
			}
		}
	}
	return 0
}
