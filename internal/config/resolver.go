package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is one configuration value with the provenance of where it
// came from, so `comps config` can show users what won and why.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Int parses the value as an integer, returning fallback when unset or
// malformed.
func (v ResolvedValue) Int(fallback int) int {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Or returns the value, or fallback when unset.
func (v ResolvedValue) Or(fallback string) string {
	if strings.TrimSpace(v.Value) == "" {
		return fallback
	}
	return v.Value
}

// ResolveOptions carries CLI-level overrides into resolution. CLI flags win
// over environment variables, which win over the config file.
type ResolveOptions struct {
	ConfigPath  string
	CLIDBPath   string
	CLIStrategy string
	CLIRawLimit string
}

// ResolvedConfig is the merged view of file, environment and CLI settings.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath   ResolvedValue `json:"db_path"`
	Strategy ResolvedValue `json:"strategy"`
	RawLimit ResolvedValue `json:"raw_limit"`

	Algorithm          ResolvedValue `json:"algorithm"`
	CarryMinItems      ResolvedValue `json:"carry_min_items"`
	MinSubClusterSize  ResolvedValue `json:"min_sub_cluster_size"`
	MinSharedCarries   ResolvedValue `json:"min_shared_carries"`
	MinMainClusterSize ResolvedValue `json:"min_main_cluster_size"`
}

type fileConfig struct {
	DBPath   string `yaml:"db_path"`
	Strategy string `yaml:"strategy"`
	RawLimit int    `yaml:"raw_limit"`
	Cluster  struct {
		Algorithm          string `yaml:"algorithm"`
		CarryMinItems      int    `yaml:"carry_min_items"`
		MinSubClusterSize  int    `yaml:"min_sub_cluster_size"`
		MinSharedCarries   int    `yaml:"min_shared_carries"`
		MinMainClusterSize int    `yaml:"min_main_cluster_size"`
	} `yaml:"cluster"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".comps", "config.yaml")
}

// ResolveConfig merges the config file, COMPS_* environment variables and
// CLI overrides, in rising precedence.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Strategy, cfg.Strategy, SourceConfig, path)
		applyInt(&out.RawLimit, cfg.RawLimit, SourceConfig, path)
		apply(&out.Algorithm, cfg.Cluster.Algorithm, SourceConfig, path)
		applyInt(&out.CarryMinItems, cfg.Cluster.CarryMinItems, SourceConfig, path)
		applyInt(&out.MinSubClusterSize, cfg.Cluster.MinSubClusterSize, SourceConfig, path)
		applyInt(&out.MinSharedCarries, cfg.Cluster.MinSharedCarries, SourceConfig, path)
		applyInt(&out.MinMainClusterSize, cfg.Cluster.MinMainClusterSize, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "COMPS_DB")
	applyEnv(&out.DBPath, "COMPS_DB_PATH")
	applyEnv(&out.Strategy, "COMPS_STRATEGY")
	applyEnv(&out.RawLimit, "COMPS_RAW_LIMIT")
	applyEnv(&out.Algorithm, "COMPS_CLUSTER_ALGORITHM")
	applyEnv(&out.CarryMinItems, "COMPS_CARRY_MIN_ITEMS")
	applyEnv(&out.MinSubClusterSize, "COMPS_MIN_SUB_CLUSTER_SIZE")
	applyEnv(&out.MinSharedCarries, "COMPS_MIN_SHARED_CARRIES")
	applyEnv(&out.MinMainClusterSize, "COMPS_MIN_MAIN_CLUSTER_SIZE")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Strategy, opts.CLIStrategy, SourceCLI, "--strategy")
	apply(&out.RawLimit, opts.CLIRawLimit, SourceCLI, "--limit")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyInt(dst *ResolvedValue, raw int, source ValueSource, from string) {
	if raw == 0 {
		return
	}
	*dst = ResolvedValue{Value: strconv.Itoa(raw), Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
