// Package config resolves CLI settings from defaults, an optional YAML
// file, a .env file and WEBEXPORT_* environment variables. Command-line
// flags are applied last by the caller.
package config

// Config holds every setting of a conversion run.
type Config struct {
	Input      string            `yaml:"input"`
	Output     string            `yaml:"output"`
	Arch       string            `yaml:"arch"`
	ShardSize  int64             `yaml:"shard_size"`
	Quantize   string            `yaml:"quantize"`
	Overwrite  bool              `yaml:"overwrite"`
	Verify     bool              `yaml:"verify"`
	Mmap       bool              `yaml:"mmap"`
	Workers    int               `yaml:"workers"`
	Validation string            `yaml:"validation"`
	Metadata   map[string]string `yaml:"metadata"`
	Log        LogConfig         `yaml:"log"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// File enables rotated file output instead of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Defaults.
const (
	DefaultInput      = "autoencoder_model.born"
	DefaultOutput     = "web_model"
	DefaultShardSize  = 4 * 1024 * 1024
	DefaultValidation = "strict"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Input:      DefaultInput,
		Output:     DefaultOutput,
		ShardSize:  DefaultShardSize,
		Validation: DefaultValidation,
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
