package regmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	multierror "github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"
)

// Capabilities holds the capability documents of every device category keyed
// by category and then by "brand_model". Values stay raw until a device
// decodes them into its own typed capability struct.
type Capabilities struct {
	byCategory map[string]map[string]json.RawMessage
}

func NewCapabilities() *Capabilities {
	return &Capabilities{byCategory: map[string]map[string]json.RawMessage{}}
}

// Parse merges one capability document into c.
func (c *Capabilities) Parse(data []byte, format Format) error {
	var doc map[string]map[string]interface{}
	var err error
	if format == YAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return fmt.Errorf("failed to parse capability document: %w", err)
	}

	var result *multierror.Error
	for category, models := range doc {
		if c.byCategory[category] == nil {
			c.byCategory[category] = map[string]json.RawMessage{}
		}
		for key, attrs := range models {
			if _, dup := c.byCategory[category][key]; dup {
				result = multierror.Append(result, fmt.Errorf("%s/%s defined twice", category, key))
				continue
			}
			raw, err := json.Marshal(normalize(attrs))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s/%s: %w", category, key, err))
				continue
			}
			c.byCategory[category][key] = raw
		}
	}
	return result.ErrorOrNil()
}

// Has reports whether a brand/model is described for category.
func (c *Capabilities) Has(category, key string) bool {
	_, ok := c.byCategory[category][key]
	return ok
}

// Decode fills into from the capability of category/key. Attribute names must
// match the fields of into exactly: unknown attributes are an error.
func (c *Capabilities) Decode(category, key string, into interface{}) error {
	raw, ok := c.byCategory[category][key]
	if !ok {
		return fmt.Errorf("no capability for %s/%s", category, key)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("capability %s/%s: %w", category, key, err)
	}
	return nil
}

// LoadCapabilities reads every .json/.yaml/.yml document in dir.
func LoadCapabilities(dir string) (*Capabilities, error) {
	files, err := documents(dir)
	if err != nil {
		return nil, err
	}
	c := NewCapabilities()
	var result *multierror.Error
	for _, path := range files {
		format, _ := FormatFor(path)
		data, err := os.ReadFile(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := c.Parse(data, format); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
		}
	}
	return c, result.ErrorOrNil()
}

// normalize turns yaml.v2 map[interface{}]interface{} trees into values
// encoding/json can marshal.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	}
	return v
}
