// Package commands implements the strix CLI subcommands.
package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/strix-dfir/strix/config"
	"github.com/strix-dfir/strix/db"
	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/logger"
)

var (
	configPath string
	dbPathFlag string
)

// RegisterGlobalFlags attaches the flags shared by every subcommand to the
// root command.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a Strix config file (toml, yaml, or json)")
	root.PersistentFlags().StringVar(&dbPathFlag, "db", "", "Path to the case database (overrides config)")
}

// loadConfig resolves effective configuration: file when --config is given,
// defaults otherwise, with --db overriding the database path either way.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dbPathFlag != "" {
		cfg.Database.Path = dbPathFlag
	}
	return cfg, nil
}

// openDatabase opens the case database and applies pending migrations.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "open case database %s", cfg.Database.Path)
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate case database")
	}
	return conn, nil
}
