// Package mapping renames fields and injects fixed values into rows before
// they are submitted.
//
// A mapping file is a flat, ordered table of source -> target entries:
//
//	# accounts.properties
//	AccountName=Name
//	[value]Customer=Type
//
// The first entry moves the value of AccountName to Name. The second sets
// Type to the literal "Customer" on every row, whatever Type held before.
// Files ending in .yaml or .yml hold the same table as a YAML mapping.
package mapping

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

const literalPrefix = "[value]"

// Entry maps one source key to one target field.
type Entry struct {
	From string
	To   string
}

// Literal reports the hardcoded value carried by a "[value]<literal>" key.
func (e Entry) Literal() (string, bool) {
	if !strings.HasPrefix(e.From, literalPrefix) || len(e.From) == len(literalPrefix) {
		return "", false
	}
	return e.From[len(literalPrefix):], true
}

// Spec is an ordered list of mapping entries.
type Spec []Entry

// MappingError reports that a mapping file could not be read or parsed.
type MappingError struct {
	Path string
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unable to read mapping file %s: %v", e.Path, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Load reads the mapping file at path, keeping entry order.
func Load(path string) (Spec, error) {
	var (
		spec Spec
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		spec, err = loadYAML(path)
	default:
		spec, err = loadProperties(path)
	}
	if err != nil {
		return nil, &MappingError{Path: path, Err: err}
	}
	return spec, nil
}

func loadProperties(path string) (Spec, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}

	spec := make(Spec, 0, p.Len())
	for _, key := range p.Keys() {
		value, _ := p.Get(key)
		spec = append(spec, Entry{From: key, To: strings.TrimSpace(value)})
	}
	return spec, nil
}

func loadYAML(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return Spec{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of source to target fields", root.Line)
	}

	spec := make(Spec, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping entries must be scalar", k.Line)
		}
		spec = append(spec, Entry{From: k.Value, To: v.Value})
	}
	return spec, nil
}

// Apply returns mapped copies of rows; the input is not modified.
//
// Entries run in file order. A literal entry sets its target on every row,
// overriding any existing value. A rename entry moves the source value to
// the target, keeping the source field's position; rows without the source
// field are left as they are. Unmapped fields pass through.
func (s Spec) Apply(rows []record.Row) []record.Row {
	out := make([]record.Row, len(rows))
	for i, r := range rows {
		out[i] = s.applyRow(r)
	}
	return out
}

func (s Spec) applyRow(r record.Row) record.Row {
	r = r.Clone()
	for _, e := range s {
		if e.To == "" {
			continue
		}
		if lit, ok := e.Literal(); ok {
			r = r.Without(e.From).With(e.To, lit)
			continue
		}
		r = r.Renamed(e.From, e.To)
	}
	return r
}
