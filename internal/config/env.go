package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "WEBEXPORT_"

// ApplyEnv overrides fields from environment variables such as
// WEBEXPORT_OUTPUT or WEBEXPORT_LOG_LEVEL. WEBEXPORT_METADATA takes
// comma-separated key=value pairs.
//
//nolint:gocognit,gocyclo,cyclop // One branch per variable
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}
	integer := func(name string, dst *int64) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("INPUT", &c.Input)
	str("OUTPUT", &c.Output)
	str("ARCH", &c.Arch)
	str("QUANTIZE", &c.Quantize)
	str("VALIDATION", &c.Validation)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	for name, dst := range map[string]*bool{
		"OVERWRITE": &c.Overwrite,
		"VERIFY":    &c.Verify,
		"MMAP":      &c.Mmap,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}

	if err := integer("SHARD_SIZE", &c.ShardSize); err != nil {
		return err
	}
	workers := int64(c.Workers)
	if err := integer("WORKERS", &workers); err != nil {
		return err
	}
	c.Workers = int(workers)

	if v, ok := lookup(EnvPrefix + "METADATA"); ok && v != "" {
		md, err := parsePairs(v)
		if err != nil {
			return fmt.Errorf("%sMETADATA: %w", EnvPrefix, err)
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, len(md))
		}
		for k, val := range md {
			c.Metadata[k] = val
		}
	}
	return nil
}

// parsePairs parses "a=1,b=2".
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
