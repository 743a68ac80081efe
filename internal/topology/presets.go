package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// PresetNone clears a draft's preset. It is matched case-insensitively and
// cannot be redefined.
const PresetNone = "None"

// GroupPreference requests Vdevs vdevs of Type with Disks members each. For
// spares Disks is the number of spare disks and Type is ignored.
type GroupPreference struct {
	Type  VdevType `json:"type" yaml:"type"`
	Disks int      `json:"disks" yaml:"disks"`
	Vdevs int      `json:"vdevs,omitempty" yaml:"vdevs,omitempty"`
}

// Preferences is the declarative layout CreateTopology allocates from.
type Preferences struct {
	Data  GroupPreference `json:"data" yaml:"data"`
	Log   GroupPreference `json:"log" yaml:"log"`
	Cache GroupPreference `json:"cache" yaml:"cache"`
	Spare GroupPreference `json:"spare" yaml:"spare"`
}

func IsNone(name string) bool { return strings.EqualFold(name, PresetNone) }

// Registry maps preset names to preferences.
type Registry struct {
	presets map[string]Preferences
}

func builtinPresets() map[string]Preferences {
	return map[string]Preferences{
		"Optimal": {
			Data:  GroupPreference{Type: RaidZ2, Disks: 6},
			Spare: GroupPreference{Type: Disk, Disks: 1},
		},
		"Virtualization": {
			Data:  GroupPreference{Type: Mirror, Disks: 2, Vdevs: 2},
			Log:   GroupPreference{Type: Disk, Disks: 1},
			Cache: GroupPreference{Type: Disk, Disks: 1},
		},
		"Media": {
			Data:  GroupPreference{Type: RaidZ1, Disks: 4},
			Cache: GroupPreference{Type: Disk, Disks: 1},
		},
		"Backups": {
			Data:  GroupPreference{Type: RaidZ3, Disks: 6},
			Spare: GroupPreference{Type: Disk, Disks: 1},
		},
	}
}

// DefaultRegistry holds the built-in presets.
func DefaultRegistry() *Registry {
	return &Registry{presets: builtinPresets()}
}

// Lookup resolves name. The caller handles PresetNone before calling.
func (r *Registry) Lookup(name string) (Preferences, error) {
	p, ok := r.presets[name]
	if !ok {
		return Preferences{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.presets))
	for k := range r.presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const presetSchema = `{
  "type": "object",
  "required": ["presets"],
  "properties": {
    "presets": {
      "type": "object",
      "additionalProperties": { "$ref": "#/definitions/preset" }
    }
  },
  "definitions": {
    "group": {
      "type": "object",
      "additionalProperties": false,
      "required": ["type", "disks"],
      "properties": {
        "type": { "enum": ["disk", "stripe", "mirror", "raidz1", "raidz2", "raidz3"] },
        "disks": { "type": "integer", "minimum": 1 },
        "vdevs": { "type": "integer", "minimum": 1 }
      }
    },
    "preset": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "data": { "$ref": "#/definitions/group" },
        "log": { "$ref": "#/definitions/group" },
        "cache": { "$ref": "#/definitions/group" },
        "spare": { "$ref": "#/definitions/group" }
      }
    }
  }
}`

type presetFile struct {
	Presets map[string]Preferences `yaml:"presets"`
}

// LoadPresets reads extra presets from a YAML document and returns a registry
// holding the built-ins plus the file's entries. File entries override
// built-ins of the same name.
func LoadPresets(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePresets(b)
}

func ParsePresets(b []byte) (*Registry, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("presets yaml: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("presets yaml: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(presetSchema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("presets validation error: %w", err)
	}
	if !result.Valid() {
		msgs := []string{}
		for _, e := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return nil, fmt.Errorf("presets validation failed: %s", strings.Join(msgs, "; "))
	}

	var f presetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("presets yaml: %w", err)
	}
	reg := DefaultRegistry()
	for name, p := range f.Presets {
		if IsNone(name) {
			return nil, fmt.Errorf("preset name %q is reserved", name)
		}
		reg.presets[name] = p
	}
	return reg, nil
}
