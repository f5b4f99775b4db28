// Package catalog holds the style prompts and reply models a conversation can
// choose from. A catalogue is a YAML document validated against an embedded
// JSON Schema; the built-in one is used when no file is configured.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.json
var schemaJSON string

var (
	// ErrUnknownStyle is returned for a style key absent from the catalogue.
	ErrUnknownStyle = errors.New("unknown style")
	// ErrUnknownModel is returned for a model key absent from the catalogue.
	ErrUnknownModel = errors.New("unknown model")
)

// Style is a named system prompt.
type Style struct {
	Description string `yaml:"description" json:"description,omitempty"`
	Prompt      string `yaml:"prompt" json:"prompt"`
}

// Model maps a short key to a completion-backend model identifier.
type Model struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Catalog is one validated catalogue document.
type Catalog struct {
	DefaultStyle string           `yaml:"default_style" json:"default_style"`
	DefaultModel string           `yaml:"default_model" json:"default_model"`
	Styles       map[string]Style `yaml:"styles" json:"styles"`
	Models       map[string]Model `yaml:"models" json:"models"`
}

var compiledSchema = jsonschema.MustCompileString("catalog.schema.json", schemaJSON)

// Parse decodes a catalogue YAML document and validates it.
func Parse(data []byte) (*Catalog, error) {
	// The schema works on JSON values, so round-trip the YAML tree first.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}

	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the cross-references the schema cannot express.
func Validate(c *Catalog) error {
	if c == nil {
		return fmt.Errorf("catalog must not be nil")
	}
	if _, ok := c.Styles[c.DefaultStyle]; !ok {
		return fmt.Errorf("default_style %q: %w", c.DefaultStyle, ErrUnknownStyle)
	}
	if _, ok := c.Models[c.DefaultModel]; !ok {
		return fmt.Errorf("default_model %q: %w", c.DefaultModel, ErrUnknownModel)
	}
	for key, s := range c.Styles {
		if strings.TrimSpace(s.Prompt) == "" {
			return fmt.Errorf("styles.%s: prompt must not be blank", key)
		}
	}
	for key, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("models.%s: id must not be blank", key)
		}
	}
	return nil
}

// Default returns the built-in catalogue.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalogue is invalid: %v", err))
	}
	return c
}

// StyleKeys returns the style keys in sorted order.
func (c *Catalog) StyleKeys() []string {
	return sortedKeys(c.Styles)
}

// ModelKeys returns the model keys in sorted order.
func (c *Catalog) ModelKeys() []string {
	return sortedKeys(c.Models)
}

// style resolves key, falling back to the default style.
func (c *Catalog) style(key string) Style {
	if s, ok := c.Styles[key]; ok {
		return s
	}
	return c.Styles[c.DefaultStyle]
}

// model resolves key, falling back to the default model.
func (c *Catalog) model(key string) Model {
	if m, ok := c.Models[key]; ok {
		return m
	}
	return c.Models[c.DefaultModel]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
