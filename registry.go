package curtain

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

// Registration maps a screen key to the address its asset loads from.
type Registration struct {
	Key     string `yaml:"key" toml:"key"`
	Address string `yaml:"address" toml:"address"`
}

// registryFile is the on-disk shape of a registry document.
type registryFile struct {
	Screens []Registration `yaml:"screens" toml:"screens"`
}

// Registry is an immutable key → address table. Keys compare byte-wise.
// Blank keys are skipped; on duplicate keys the first registration wins and
// the key is reported by Duplicates.
type Registry struct {
	regs       []Registration
	byKey      map[string]string
	duplicates []string
}

// NewRegistry builds a registry from regs. Duplicate keys are logged as
// configuration warnings.
func NewRegistry(regs ...Registration) *Registry {
	r := &Registry{
		regs:  append([]Registration(nil), regs...),
		byKey: make(map[string]string, len(regs)),
	}
	seen := make(map[string]bool)
	for _, reg := range regs {
		if strings.TrimSpace(reg.Key) == "" {
			continue
		}
		if _, ok := r.byKey[reg.Key]; ok {
			if !seen[reg.Key] {
				seen[reg.Key] = true
				r.duplicates = append(r.duplicates, reg.Key)
			}
			Logger().Warn("duplicate screen registration ignored",
				"key", reg.Key, "kept", r.byKey[reg.Key], "ignored", reg.Address)
			continue
		}
		r.byKey[reg.Key] = reg.Address
	}
	return r
}

// Address returns the address registered for key.
func (r *Registry) Address(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	addr, ok := r.byKey[key]
	return addr, ok
}

// Registrations returns a copy of the registrations as declared, duplicates
// and blank keys included.
func (r *Registry) Registrations() []Registration {
	return append([]Registration(nil), r.regs...)
}

// Keys returns the effective keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of effective keys.
func (r *Registry) Len() int {
	return len(r.byKey)
}

// Duplicates returns keys that were declared more than once, in first-seen order.
func (r *Registry) Duplicates() []string {
	return append([]string(nil), r.duplicates...)
}

// maxSuggestDistance bounds how different a suggestion may be.
const maxSuggestDistance = 3

// Suggest returns the registered key closest to key by edit distance, if any
// is close enough to be a plausible typo.
func (r *Registry) Suggest(key string) (string, bool) {
	if r == nil || key == "" {
		return "", false
	}
	best, bestDist := "", maxSuggestDistance+1
	for _, k := range r.Keys() {
		d := levenshtein.ComputeDistance(strings.ToLower(key), strings.ToLower(k))
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" || best == key {
		return "", false
	}
	return best, true
}

// Registry formats understood by ParseRegistry.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// ParseRegistry decodes a registry document in the given format.
func ParseRegistry(data []byte, format string) (*Registry, error) {
	var f registryFile
	switch strings.ToLower(format) {
	case FormatYAML, "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse registry: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("parse registry: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse registry: unknown field %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("parse registry: unsupported format %q", format)
	}
	return NewRegistry(f.Screens...), nil
}

// LoadRegistry reads a registry file from fsys, choosing the format from the
// file extension (.yaml, .yml or .toml).
func LoadRegistry(fsys fs.FS, name string) (*Registry, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return ParseRegistry(data, strings.TrimPrefix(path.Ext(name), "."))
}
