package leadform

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// fallbackLastName is used when a submission carries no usable last name;
// the CRM rejects leads without one.
const fallbackLastName = "Unknown"

// FieldRule customizes how one lead field is populated from the form. Field
// is the CRM API field name (the struct's JSON tag); Aliases are additional
// form keys accepted for it; Default applies when the form supplies nothing.
type FieldRule struct {
	Field   string   `yaml:"field"`
	Aliases []string `yaml:"aliases"`
	Default string   `yaml:"default"`
}

// Mapper populates a Lead from submitted form values by matching form keys
// against the Lead struct's JSON tags, with per-field aliases and defaults.
// Matching is case-sensitive on the CRM field name and alias, mirroring the
// CRM's own field naming.
type Mapper struct {
	fields   map[string]reflect.StructField // CRM field name → struct field
	aliases  map[string]string              // form key → CRM field name
	defaults map[string]string              // CRM field name → default value
}

// builtinRules reflects the forms this service has historically received:
// camel-case variants of the CRM's underscored names.
func builtinRules() []FieldRule {
	return []FieldRule{
		{Field: "Last_Name", Aliases: []string{"LastName"}, Default: fallbackLastName},
		{Field: "First_Name", Aliases: []string{"FirstName"}},
	}
}

// NewMapper builds a mapper with the built-in rules, the default company and
// any overrides from the YAML file at path (optional, empty to skip). File
// rules replace built-in rules for the same field.
func NewMapper(defaultCompany string, path string) (*Mapper, error) {
	rules := builtinRules()

	if path != "" {
		fileRules, err := loadRules(path)
		if err != nil {
			return nil, err
		}
		rules = mergeRules(rules, fileRules)
	}

	m := &Mapper{
		fields:   make(map[string]reflect.StructField),
		aliases:  make(map[string]string),
		defaults: make(map[string]string),
	}

	t := reflect.TypeOf(Lead{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		name := field.Tag.Get("json")
		if idx := strings.Index(name, ","); idx != -1 {
			name = name[:idx]
		}
		if name == "" || name == "-" {
			continue
		}

		m.fields[name] = field
	}

	if defaultCompany != "" {
		m.defaults["Company"] = defaultCompany
	}

	for _, rule := range rules {
		if _, ok := m.fields[rule.Field]; !ok {
			return nil, fmt.Errorf("field map: %q is not a lead field", rule.Field)
		}
		for _, alias := range rule.Aliases {
			m.aliases[alias] = rule.Field
		}
		if rule.Default != "" {
			m.defaults[rule.Field] = rule.Default
		}
	}

	return m, nil
}

// FromValues builds a Lead from submitted form values. Unknown form keys are
// ignored; a direct field-name match wins over an alias; defaults fill any
// field the form left empty.
func (m *Mapper) FromValues(values url.Values) Lead {
	var lead Lead
	v := reflect.ValueOf(&lead).Elem()

	assign := func(name, value string) {
		field, ok := m.fields[name]
		if !ok || value == "" {
			return
		}
		v.FieldByIndex(field.Index).SetString(value)
	}

	// aliases first so direct matches overwrite them
	for key, vals := range values {
		if target, ok := m.aliases[key]; ok && len(vals) > 0 {
			assign(target, vals[0])
		}
	}
	for key, vals := range values {
		if _, ok := m.fields[key]; ok && len(vals) > 0 {
			assign(key, vals[0])
		}
	}

	for name, def := range m.defaults {
		field := m.fields[name]
		if v.FieldByIndex(field.Index).String() == "" {
			v.FieldByIndex(field.Index).SetString(def)
		}
	}

	return lead
}

type fieldMapFile struct {
	Fields []FieldRule `yaml:"fields"`
}

func loadRules(path string) ([]FieldRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read field map: %w", err)
	}

	var parsed fieldMapFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse field map: %w", err)
	}

	return parsed.Fields, nil
}

func mergeRules(base, overrides []FieldRule) []FieldRule {
	merged := make([]FieldRule, 0, len(base)+len(overrides))

	overridden := make(map[string]bool, len(overrides))
	for _, rule := range overrides {
		overridden[rule.Field] = true
	}

	for _, rule := range base {
		if !overridden[rule.Field] {
			merged = append(merged, rule)
		}
	}

	return append(merged, overrides...)
}
