package kb

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	domainerrors "nsmigrate/internal/core/errors"
)

//go:embed default.toml
var defaultTable []byte

// Default returns the embedded javax -> jakarta table.
func Default() (*KnowledgeBase, error) {
	kb, err := Parse(defaultTable, "toml")
	if err != nil {
		return nil, err
	}
	kb.source = "embedded"
	return kb, nil
}

// Load reads a table from path. The format follows the extension: .yaml and
// .yml are YAML, everything else TOML.
func Load(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = domainerrors.Wrap(err, domainerrors.CodeNotFound, "read knowledge base")
		return nil, domainerrors.AddContext(err, domainerrors.CtxPath, path)
	}
	format := "toml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	kb, err := Parse(data, format)
	if err != nil {
		return nil, domainerrors.AddContext(err, domainerrors.CtxPath, path)
	}
	kb.source = path
	return kb, nil
}

// LoadOrDefault loads path, or the embedded table when path is empty.
func LoadOrDefault(path string) (*KnowledgeBase, error) {
	if path == "" {
		return Default()
	}
	return Load(path)
}

func Parse(data []byte, format string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&kb); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeParse, "decode knowledge base yaml")
		}
	default:
		md, err := toml.Decode(string(data), &kb)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeParse, "decode knowledge base toml")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, domainerrors.Newf(domainerrors.CodeValidationError, "unknown knowledge base key %q", undecoded[0].String())
		}
	}

	if err := validate(&kb); err != nil {
		return nil, err
	}
	kb.index()
	return &kb, nil
}

func validate(kb *KnowledgeBase) error {
	switch {
	case kb.SchemaVersion == 0:
		return domainerrors.New(domainerrors.CodeValidationError, "knowledge base is missing schema_version")
	case kb.SchemaVersion > SchemaVersion:
		return domainerrors.Newf(domainerrors.CodeNotSupported, "knowledge base schema_version %d is newer than supported version %d", kb.SchemaVersion, SchemaVersion)
	case kb.SchemaVersion < 0:
		return domainerrors.Newf(domainerrors.CodeValidationError, "invalid schema_version %d", kb.SchemaVersion)
	}

	seen := make(map[string]bool)
	for i := range kb.Entries {
		e := &kb.Entries[i]
		if !isCoordinate(e.Legacy) {
			return domainerrors.Newf(domainerrors.CodeValidationError, "entries[%d]: legacy %q must be group:name", i, e.Legacy)
		}
		if seen[e.Legacy] {
			return domainerrors.Newf(domainerrors.CodeValidationError, "entries[%d]: duplicate legacy coordinate %q", i, e.Legacy)
		}
		seen[e.Legacy] = true
		if e.Level == "" {
			e.Level = LevelMinorChanges
		}
		if !e.Level.Valid() {
			return domainerrors.Newf(domainerrors.CodeValidationError, "entries[%d]: unknown level %q", i, e.Level)
		}
		if e.Level != LevelNone && !isCoordinate(e.Successor) {
			return domainerrors.Newf(domainerrors.CodeValidationError, "entries[%d]: successor %q must be group:name", i, e.Successor)
		}
	}

	for i := range kb.Families {
		f := &kb.Families[i]
		g, err := glob.Compile(f.Family)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeValidationError, fmt.Sprintf("families[%d]: invalid family pattern %q", i, f.Family))
		}
		if NormalizeVersion(f.MinVersion) == "" {
			return domainerrors.Newf(domainerrors.CodeValidationError, "families[%d]: invalid min_version %q", i, f.MinVersion)
		}
		f.matcher = g
	}

	for i, p := range kb.Packages {
		if strings.TrimSpace(p.Legacy) == "" {
			return domainerrors.Newf(domainerrors.CodeValidationError, "packages[%d]: legacy package is required", i)
		}
	}
	for i, u := range kb.URIs {
		if u.Legacy == "" || u.Successor == "" {
			return domainerrors.Newf(domainerrors.CodeValidationError, "uris[%d]: legacy and successor are required", i)
		}
	}
	return nil
}

func isCoordinate(s string) bool {
	group, name, ok := strings.Cut(s, ":")
	return ok && group != "" && name != "" && !strings.Contains(name, ":")
}
