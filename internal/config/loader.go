package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SWARMLING"

// RegisterFlags defines the worker's flag surface on the given flag set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("master-host", DefaultMasterHost, "coordinator address")
	fs.Int("master-port", DefaultMasterPort, "coordinator port")
	fs.Int("buffer-size", DefaultBufferSize, "scheduler queue capacity (power of 2)")
	fs.Int("threads", DefaultThreads, "scheduler parallelism")
	fs.Int("stat-interval", DefaultStatInterval, "stats flush cadence in milliseconds")
	fs.Int64("random-seed", 0, "node-id seed, 0 for random")
	fs.Int("max-rps", DefaultMaxRPS, "global RPS cap, 0 to disable")
	fs.String("scenario", "", "path to the YAML scenario file")
	fs.String("config", "", "path to an optional YAML config file")
	fs.Bool("verbose", false, "enable debug logging")
}

// Load resolves the configuration from flags, SWARMLING_* environment
// variables and an optional config file, in that precedence order.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("master_host", DefaultMasterHost)
	v.SetDefault("master_port", DefaultMasterPort)
	v.SetDefault("buffer_size", DefaultBufferSize)
	v.SetDefault("threads", DefaultThreads)
	v.SetDefault("stat_interval", DefaultStatInterval)
	v.SetDefault("random_seed", 0)
	v.SetDefault("max_rps", DefaultMaxRPS)
	v.SetDefault("scenario", "")
	v.SetDefault("verbose", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile, err := fs.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("config: read --config flag: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	// Flags win over env and file, but only when actually set.
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		v.Set(key, f.Value.String())
	})

	cfg := &Config{ConfigFile: configFile}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
