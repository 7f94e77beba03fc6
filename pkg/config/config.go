package config

// Package config provides a reusable loader for nexusdb configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"nexusdb/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a nexusdb node. It mirrors
// the structure of the YAML files under cmd/config.
type Config struct {
	Listen struct {
		Addr        string `mapstructure:"addr" json:"addr"`
		ReplAddr    string `mapstructure:"repl_addr" json:"repl_addr"`
		AdminAddr   string `mapstructure:"admin_addr" json:"admin_addr"`
		DebugAddr   string `mapstructure:"debug_addr" json:"debug_addr"`
		ClusterAddr string `mapstructure:"cluster_addr" json:"cluster_addr"`
	} `mapstructure:"listen" json:"listen"`

	Wal struct {
		Dir             string `mapstructure:"dir" json:"dir"`
		RowsPerWal      uint64 `mapstructure:"rows_per_wal" json:"rows_per_wal"`
		FsyncDelayMS    int    `mapstructure:"fsync_delay_ms" json:"fsync_delay_ms"`
		PanicOnWalError bool   `mapstructure:"panic_on_wal_error" json:"panic_on_wal_error"`
	} `mapstructure:"wal" json:"wal"`

	Snapshot struct {
		Dir         string `mapstructure:"dir" json:"dir"`
		RateLimitBPS int   `mapstructure:"rate_limit_bps" json:"rate_limit_bps"`
	} `mapstructure:"snapshot" json:"snapshot"`

	Replication struct {
		Of string `mapstructure:"of" json:"of"`
	} `mapstructure:"replication" json:"replication"`

	Arena struct {
		SlabBytes int `mapstructure:"slab_bytes" json:"slab_bytes"`
	} `mapstructure:"arena" json:"arena"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Spaces []SpaceDef `mapstructure:"spaces" json:"spaces"`
}

// SpaceDef declares one Space and its indexes, read from the "spaces"
// config section. Schema definition lives in config rather than a DDL
// opcode — the wire protocol (spec.md §4.3) has no CREATE SPACE request,
// and schema migrations are explicitly out of scope.
type SpaceDef struct {
	ID      uint32      `mapstructure:"id" json:"id"`
	Name    string      `mapstructure:"name" json:"name"`
	Arity   int         `mapstructure:"arity" json:"arity"`
	Indexes []IndexDef  `mapstructure:"indexes" json:"indexes"`
}

// IndexDef declares one index slot of a SpaceDef. Indexes[0] is always
// the primary index and must be unique.
type IndexDef struct {
	Kind   string `mapstructure:"kind" json:"kind"` // "hash" or "tree"
	Fields []int  `mapstructure:"fields" json:"fields"`
	Unique bool   `mapstructure:"unique" json:"unique"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NEXUSDB_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NEXUSDB_ENV", ""))
}
