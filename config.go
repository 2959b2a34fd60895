package vigil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config is the full tool configuration, loaded from vigil.yml.
type Config struct {
	Checks     ChecksConfig `yaml:"checks" mapstructure:"checks"`
	Exclude    []string     `yaml:"exclude" mapstructure:"exclude"`
	Extensions []string     `yaml:"extensions" mapstructure:"extensions"`
	CacheFile  string       `yaml:"cache_file" mapstructure:"cache_file"`
	Jobs       int          `yaml:"jobs" mapstructure:"jobs"`
}

// ChecksConfig groups per-check settings.
type ChecksConfig struct {
	Cloc    ClocConfig    `yaml:"cloc" mapstructure:"cloc"`
	Escapes EscapesConfig `yaml:"escapes" mapstructure:"escapes"`
	License LicenseConfig `yaml:"license" mapstructure:"license"`
	Build   BuildConfig   `yaml:"build" mapstructure:"build"`
}

// ClocConfig configures the file size limit check.
type ClocConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	MaxLines     int  `yaml:"max_lines" mapstructure:"max_lines"`
	MaxLinesTest int  `yaml:"max_lines_test" mapstructure:"max_lines_test"`
}

// EscapesConfig configures escape-hatch detection.
type EscapesConfig struct {
	Enabled  bool            `yaml:"enabled" mapstructure:"enabled"`
	Patterns []EscapePattern `yaml:"patterns" mapstructure:"patterns"`
}

// EscapePattern is a named substring pattern with fix advice.
type EscapePattern struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	Advice  string `yaml:"advice" mapstructure:"advice"`
}

// LicenseConfig configures the license header check.
type LicenseConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Header  string `yaml:"header" mapstructure:"header"`
}

// BuildConfig configures go.mod hygiene checking.
type BuildConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultEscapePatterns are used when the config defines none.
func DefaultEscapePatterns() []EscapePattern {
	return []EscapePattern{
		{
			Name:    "nolint",
			Pattern: "//nolint",
			Advice:  "Fix the underlying finding instead of suppressing it",
		},
		{
			Name:    "unsafe",
			Pattern: "unsafe.Pointer",
			Advice:  "Avoid unsafe.Pointer; use a typed conversion or restructure the code",
		},
	}
}

// LoadConfig reads the configuration using viper. cfgFile may be a full
// path to a config file, a config name, or empty to use the defaults.
func LoadConfig(fs afero.Fs, path string, cfgFile string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yml")

	fileInfo, statErr := fs.Stat(cfgFile)
	if statErr == nil && !fileInfo.IsDir() {
		v.SetConfigFile(cfgFile)
	} else {
		if cfgFile != "" {
			if strings.HasSuffix(cfgFile, ".yml") || strings.HasSuffix(cfgFile, ".yaml") {
				v.SetConfigFile(cfgFile)
			} else {
				v.SetConfigName(cfgFile)
			}
		} else {
			v.SetConfigName("vigil")
		}

		v.AddConfigPath(path)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.vigil")
		v.AddConfigPath("./.vigil")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return Config{}, NewConfigError("failed loading config file", err)
		}
		// No config file is fine: run with defaults.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, NewConfigError("failed unmarshaling config file", err)
	}

	if config.Checks.Escapes.Enabled && len(config.Checks.Escapes.Patterns) == 0 {
		config.Checks.Escapes.Patterns = DefaultEscapePatterns()
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("checks.cloc.enabled", true)
	v.SetDefault("checks.cloc.max_lines", 700)
	v.SetDefault("checks.cloc.max_lines_test", 1000)
	v.SetDefault("checks.escapes.enabled", true)
	v.SetDefault("checks.license.enabled", false)
	v.SetDefault("checks.build.enabled", true)
	v.SetDefault("exclude", []string{})
	v.SetDefault("extensions", []string{".go"})
	v.SetDefault("cache_file", ".vigil/cache.bin")
	v.SetDefault("jobs", 0)
}

// Hash summarizes every configuration field that can change check results
// into a single number. The cache trusts a persisted snapshot only when
// this hash matches. Fields that cannot affect check output (cache file
// location, worker count) are deliberately left out.
func (c Config) Hash() uint64 {
	d := xxhash.New()

	fmt.Fprintf(d, "cloc:%v:%d:%d\n", c.Checks.Cloc.Enabled, c.Checks.Cloc.MaxLines, c.Checks.Cloc.MaxLinesTest)
	fmt.Fprintf(d, "escapes:%v\n", c.Checks.Escapes.Enabled)
	for _, p := range c.Checks.Escapes.Patterns {
		fmt.Fprintf(d, "pattern:%s:%s:%s\n", p.Name, p.Pattern, p.Advice)
	}
	fmt.Fprintf(d, "license:%v:%s\n", c.Checks.License.Enabled, c.Checks.License.Header)
	fmt.Fprintf(d, "build:%v\n", c.Checks.Build.Enabled)
	for _, e := range c.Exclude {
		fmt.Fprintf(d, "exclude:%s\n", e)
	}
	for _, ext := range c.Extensions {
		fmt.Fprintf(d, "ext:%s\n", ext)
	}

	return d.Sum64()
}
