// Package config loads loopctl's two-level YAML configuration (user then
// project, project wins) with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration for one loopctl invocation.
// The run engine holds the whole value; the CLI hands other components only
// the fields they use.
type Config struct {
	Defaults       Defaults       `mapstructure:"defaults"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Completion     Completion     `mapstructure:"completion"`
	SuccessCriteria SuccessCriteria `mapstructure:"successCriteria"`
	QualityChecks  QualityChecks  `mapstructure:"quality_checks"`
	Hooks          Hooks          `mapstructure:"hooks"`
	Research       Research       `mapstructure:"research"`
}

// Defaults holds the loop-wide knobs from spec.md §6.
type Defaults struct {
	MaxIterations    int `mapstructure:"max_iterations"`
	TimeoutMinutes   int `mapstructure:"timeout_minutes"`
	RateLimitPerHour int `mapstructure:"rate_limit_per_hour"`
}

// CircuitBreaker holds the two trip thresholds from spec.md §4.3.
type CircuitBreaker struct {
	NoProgressThreshold int `mapstructure:"no_progress_threshold"`
	SameErrorThreshold  int `mapstructure:"same_error_threshold"`
}

// Completion lets a project override the completion-promise token and add
// extra completion patterns (spec.md §6).
type Completion struct {
	Promise        string   `mapstructure:"promise"`
	CustomPatterns []string `mapstructure:"custom_patterns"`
}

// SuccessCriteria configures the mandatory-when-configured success gate.
type SuccessCriteria struct {
	Command string `mapstructure:"command"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// QualityChecks configures the optional quality gate. All takes precedence
// over the Backend/Frontend split when set.
type QualityChecks struct {
	All      string `mapstructure:"all"`
	Backend  string `mapstructure:"backend"`
	Frontend string `mapstructure:"frontend"`
}

// Hooks configures the user-defined post-iteration hook.
type Hooks struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
}

// Research configures the bounded-concurrency research pool.
type Research struct {
	MaxAgents int `mapstructure:"max_agents"`
	Timeout   int `mapstructure:"timeout"` // seconds
}

// defaultConfig mirrors the constants called out in spec.md throughout §4 and §5.
func defaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			MaxIterations:    50,
			TimeoutMinutes:   15,
			RateLimitPerHour: 100,
		},
		CircuitBreaker: CircuitBreaker{
			NoProgressThreshold: 3,
			SameErrorThreshold:  5,
		},
		Completion: Completion{
			Promise: "<promise>COMPLETE</promise>",
		},
		SuccessCriteria: SuccessCriteria{
			Timeout: 300,
		},
		Hooks: Hooks{
			Enabled: false,
		},
		Research: Research{
			MaxAgents: 3,
			Timeout:   600,
		},
	}
}

// Load reads the user-level config, merges the project-level config over
// it (project wins on any key present in both), then applies LOOPCTL_-prefixed
// environment variable overrides, which win over both files.
//
// projectDir is the project root (the directory containing .loopctl/); either
// file may be absent, in which case built-in defaults are used for it.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	cfg := defaultConfig()
	if err := v.MergeConfigMap(toMap(cfg)); err != nil {
		return nil, fmt.Errorf("seeding defaults: %w", err)
	}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".config", "loopctl", "config.yaml")
		if err := mergeFile(v, userPath); err != nil {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectPath := filepath.Join(projectDir, ".loopctl", "config.yaml")
	if err := mergeFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix("LOOPCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, cfg)

	out := defaultConfig()
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return out, nil
}

// mergeFile merges path into v if it exists; a missing file is not an error.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	fv := viper.New()
	fv.SetConfigType("yaml")
	if err := fv.ReadConfig(strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return v.MergeConfigMap(fv.AllSettings())
}

// bindEnv registers every leaf config key so AutomaticEnv actually picks it
// up (viper only honors automatic env lookup for keys it already knows about).
func bindEnv(v *viper.Viper, cfg *Config) {
	for key := range toMap(cfg) {
		_ = v.BindEnv(key)
	}
	for _, key := range []string{
		"defaults.max_iterations", "defaults.timeout_minutes", "defaults.rate_limit_per_hour",
		"circuit_breaker.no_progress_threshold", "circuit_breaker.same_error_threshold",
		"completion.promise", "completion.custom_patterns",
		"successCriteria.command", "successCriteria.timeout",
		"quality_checks.all", "quality_checks.backend", "quality_checks.frontend",
		"hooks.enabled", "hooks.command",
		"research.max_agents", "research.timeout",
	} {
		_ = v.BindEnv(key)
	}
}

// toMap flattens cfg into viper's nested-map shape via its own YAML tags by
// round-tripping through Unmarshal's inverse is more code than it's worth;
// instead we hand the already-decoded struct contents directly since Config
// fields are all simple types.
func toMap(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"defaults": map[string]interface{}{
			"max_iterations":      cfg.Defaults.MaxIterations,
			"timeout_minutes":     cfg.Defaults.TimeoutMinutes,
			"rate_limit_per_hour": cfg.Defaults.RateLimitPerHour,
		},
		"circuit_breaker": map[string]interface{}{
			"no_progress_threshold": cfg.CircuitBreaker.NoProgressThreshold,
			"same_error_threshold":  cfg.CircuitBreaker.SameErrorThreshold,
		},
		"completion": map[string]interface{}{
			"promise":         cfg.Completion.Promise,
			"custom_patterns": cfg.Completion.CustomPatterns,
		},
		"successCriteria": map[string]interface{}{
			"command": cfg.SuccessCriteria.Command,
			"timeout": cfg.SuccessCriteria.Timeout,
		},
		"quality_checks": map[string]interface{}{
			"all":      cfg.QualityChecks.All,
			"backend":  cfg.QualityChecks.Backend,
			"frontend": cfg.QualityChecks.Frontend,
		},
		"hooks": map[string]interface{}{
			"enabled": cfg.Hooks.Enabled,
			"command": cfg.Hooks.Command,
		},
		"research": map[string]interface{}{
			"max_agents": cfg.Research.MaxAgents,
			"timeout":    cfg.Research.Timeout,
		},
	}
}

// TimeoutDuration converts Defaults.TimeoutMinutes to a time.Duration.
func (d Defaults) TimeoutDuration() time.Duration {
	return time.Duration(d.TimeoutMinutes) * time.Minute
}

// Duration converts a seconds field to a time.Duration.
func Duration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
