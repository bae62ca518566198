package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
)

// KongLoader is a kong.ConfigurationLoader for MedCompanion TOML files.
// A flag named --cache-dir is resolved from the cache_dir key. Keys are
// checked against Config so typos fail at startup.
func KongLoader(r io.Reader) (kong.Resolver, error) {
	raw, err := decodeRaw(r)
	if err != nil {
		return nil, err
	}
	probe := Default()
	if err := applyRaw(raw, &probe); err != nil {
		return nil, err
	}

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		key := strings.ReplaceAll(flag.Name, "-", "_")
		value, ok := raw[key]
		if !ok {
			return nil, nil
		}
		// Durations and sizes go through kong's own mappers as strings.
		switch v := value.(type) {
		case int64:
			return fmt.Sprint(v), nil
		case bool:
			return v, nil
		default:
			return value, nil
		}
	}), nil
}
