package output

import (
	"bytes"
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/nestkv/pkg/value"
)

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

// Format formats data as YAML. Field names follow the json tags so both
// formats describe a result the same way.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	plain, err := toPlain(data)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		return err
	}
	return enc.Close()
}

func toPlain(data any) (any, error) {
	switch d := data.(type) {
	case value.Value:
		return d.Interface(), nil
	case value.Map:
		return d.Interface(), nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var plain any
	if err := dec.Decode(&plain); err != nil {
		return nil, err
	}
	return plain, nil
}
