package statusmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/feedbackkit/fb/internal/types"
)

// File is the on-disk shape of a status mapping.
//
//	to_external:
//	  new: To Do
//	to_local:
//	  "In Review": in_progress
//	default: open
type File struct {
	ToExternal map[string]string `yaml:"to_external" toml:"to_external"`
	ToLocal    map[string]string `yaml:"to_local" toml:"to_local"`
	Default    string            `yaml:"default" toml:"default"`
}

// Mapper converts f into a Mapper.
func (f *File) Mapper() *Mapper {
	toExt := make(map[types.Status]string, len(f.ToExternal))
	for k, v := range f.ToExternal {
		toExt[types.Status(strings.TrimSpace(k))] = v
	}
	toLoc := make(map[string]types.Status, len(f.ToLocal))
	for k, v := range f.ToLocal {
		toLoc[k] = types.Status(strings.TrimSpace(v))
	}
	return New(toExt, toLoc, WithDefault(types.Status(f.Default)))
}

// LoadFile reads a .yaml/.yml or .toml mapping file.
func LoadFile(path string) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status map: %w", err)
	}
	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse status map %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parse status map %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported status map format %q (want .yaml, .yml or .toml)", ext)
	}
	return f.Mapper(), nil
}

// FromKeyValues builds a Mapper from flat config keys:
//
//	<prefix>.status_map.<local>      = <external>
//	<prefix>.status_reverse.<external> = <local>
//	<prefix>.status_default          = <local>
//
// Keys are matched case-insensitively, matching how viper lower-cases them.
func FromKeyValues(prefix string, all map[string]string) *Mapper {
	prefix = strings.ToLower(prefix)
	fwd := prefix + ".status_map."
	rev := prefix + ".status_reverse."
	defKey := prefix + ".status_default"

	toExt := map[types.Status]string{}
	toLoc := map[string]types.Status{}
	var def types.Status
	for key, value := range all {
		k := strings.ToLower(key)
		switch {
		case strings.HasPrefix(k, fwd):
			toExt[types.Status(strings.TrimPrefix(k, fwd))] = value
		case strings.HasPrefix(k, rev):
			toLoc[strings.TrimPrefix(k, rev)] = types.Status(strings.ToLower(strings.TrimSpace(value)))
		case k == defKey:
			def = types.Status(strings.TrimSpace(value))
		}
	}
	return New(toExt, toLoc, WithDefault(def))
}
