// Package config defines the Strix configuration model.
//
// Configuration is an explicit value constructed by the host and passed into
// components at creation time. There is no global config state and no config
// file discovery; hosts that want file-backed config call LoadFromFile with
// an explicit path.
package config

// Config represents the core Strix configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Semantic SemanticConfig `mapstructure:"semantic"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig configures the SQLite case database
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // Path to the case database holding the matches table
}

// SemanticConfig configures the semantic rule correlation engine
type SemanticConfig struct {
	RulesPath string `mapstructure:"rules_path"` // File or directory of rule files (JSON or YAML)

	// MinIndicatorsRequired suppresses single-indicator heuristics: a rule
	// result is accepted only when at least this many distinct conditions
	// matched independently (default: 1)
	MinIndicatorsRequired int `mapstructure:"min_indicators_required"`

	// UseQueryPath enables SQL compilation of translatable rules; rules the
	// compiler refuses always fall back to in-memory evaluation
	UseQueryPath bool `mapstructure:"use_query_path"`

	// EnableFTS enables the FTS5 pre-filter when the SQLite build supports
	// it; results are identical either way, FTS only changes speed
	EnableFTS bool `mapstructure:"enable_fts"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	JSON bool `mapstructure:"json"` // JSON structured output instead of console
}

// Default returns a Config populated with defaults, for hosts that construct
// configuration programmatically.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "strix.db"},
		Semantic: SemanticConfig{
			MinIndicatorsRequired: 1,
		},
	}
}
