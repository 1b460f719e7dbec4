package config

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PrintSettings writes v as YAML.
func PrintSettings(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode settings")
	}
	return errors.Wrap(enc.Close(), "encode settings")
}
