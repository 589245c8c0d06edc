package config

import (
	"github.com/spf13/viper"

	"github.com/strix-dfir/strix/errors"
)

// SetDefaults registers default values on a Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "strix.db")
	v.SetDefault("semantic.rules_path", "")
	v.SetDefault("semantic.min_indicators_required", 1)
	v.SetDefault("semantic.use_query_path", false)
	v.SetDefault("semantic.enable_fts", false)
	v.SetDefault("logging.json", false)
}

// LoadFromFile loads configuration from a specific file path. The format is
// inferred from the file extension (toml, yaml, json).
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if config.Semantic.MinIndicatorsRequired < 1 {
		config.Semantic.MinIndicatorsRequired = 1
	}
	return &config, nil
}
