package config

// Package config provides a reusable loader for ZHTP configuration files and
// environment variables. It is versioned so that applications can depend on
// a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"zhtp-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a ZHTP node. It mirrors
// the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID               string `mapstructure:"id" yaml:"id" json:"id"`
		MeshPort         uint16 `mapstructure:"mesh_port" yaml:"mesh_port" json:"mesh_port"`
		LocalIP          string `mapstructure:"local_ip" yaml:"local_ip" json:"local_ip"`
		AnnounceInterval int    `mapstructure:"announce_interval_sec" yaml:"announce_interval_sec" json:"announce_interval_sec"`
		EnablePortScan   bool   `mapstructure:"enable_port_scan" yaml:"enable_port_scan" json:"enable_port_scan"`
		MaxPeers         int    `mapstructure:"max_peers" yaml:"max_peers" json:"max_peers"`
	} `mapstructure:"network" yaml:"network" json:"network"`

	Routing struct {
		MaxHopCount     int    `mapstructure:"max_hop_count" yaml:"max_hop_count" json:"max_hop_count"`
		Algorithm       string `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
		CacheTimeoutSec int    `mapstructure:"cache_timeout_sec" yaml:"cache_timeout_sec" json:"cache_timeout_sec"`
	} `mapstructure:"routing" yaml:"routing" json:"routing"`

	Contracts struct {
		GasLimit       uint64 `mapstructure:"gas_limit" yaml:"gas_limit" json:"gas_limit"`
		MaxMemoryPages uint32 `mapstructure:"max_memory_pages" yaml:"max_memory_pages" json:"max_memory_pages"`
	} `mapstructure:"contracts" yaml:"contracts" json:"contracts"`

	Web4 struct {
		ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr" json:"listen_addr"`
		TrustMode  string `mapstructure:"trust_mode" yaml:"trust_mode" json:"trust_mode"`
		MinDAOFee  uint64 `mapstructure:"min_dao_fee" yaml:"min_dao_fee" json:"min_dao_fee"`
	} `mapstructure:"web4" yaml:"web4" json:"web4"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	} `mapstructure:"storage" yaml:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level" json:"level"`
		File  string `mapstructure:"file" yaml:"file" json:"file"`
	} `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
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

	viper.AutomaticEnv() // picks up process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ZHTP_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ZHTP_ENV", ""))
}

// Default returns the stock configuration a fresh node starts from.
func Default() *Config {
	var cfg Config
	cfg.Network.ID = "zhtp-mainnet"
	cfg.Network.MeshPort = 37700
	cfg.Network.AnnounceInterval = 30
	cfg.Network.MaxPeers = 1000
	cfg.Routing.MaxHopCount = 10
	cfg.Routing.Algorithm = "adaptive"
	cfg.Routing.CacheTimeoutSec = 300
	cfg.Contracts.GasLimit = 8_000_000
	cfg.Contracts.MaxMemoryPages = 256
	cfg.Web4.ListenAddr = "0.0.0.0:9443"
	cfg.Web4.TrustMode = "tofu"
	cfg.Web4.MinDAOFee = 1000
	cfg.Logging.Level = "info"
	return &cfg
}

// WriteDefault renders the stock configuration as YAML at path, creating
// parent directories as needed. Used by `zhtp config init`.
func WriteDefault(path string) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return utils.Wrap(err, "config dir")
	}
	return os.WriteFile(path, raw, 0o644)
}
