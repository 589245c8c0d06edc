// Package feather provides access to normalized per-artifact-type tables
// ("Feathers") produced by the artifact collectors.
//
// A Feather database holds one data table of forensic records plus a
// feather_metadata(key, value) table describing the artifact type. Data
// tables carry an identity_key column of the form "<type>:<normalized_value>"
// used to join records across Feathers that refer to the same entity.
package feather

import (
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/strix-dfir/strix/db"
	"github.com/strix-dfir/strix/errors"
)

const (
	// MetadataTable is the structural table present in every Feather database
	MetadataTable = "feather_metadata"

	// IdentityColumn is the synthetic join column present in every data table
	IdentityColumn = "identity_key"

	// metadataTableNameKey optionally records the canonical data table name
	metadataTableNameKey = "table_name"
)

// Metadata holds the feather_metadata key/value pairs of a Feather database.
type Metadata struct {
	FeatherID    string
	ArtifactType string
	CreatedDate  string
	Extra        map[string]string
}

// Open opens a Feather database at the given path.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	return db.Open(path, logger)
}

// MakeIdentityKey builds the synthetic "<type>:<value>" join key. The value
// is lowercased; identity comparison across Feathers is case-insensitive.
func MakeIdentityKey(identityType, value string) string {
	return identityType + ":" + strings.ToLower(strings.TrimSpace(value))
}

// SplitIdentityKey splits a "<type>:<value>" key into its parts. Values may
// themselves contain colons (drive paths), so only the first separator counts.
func SplitIdentityKey(key string) (identityType, value string, ok bool) {
	idx := strings.Index(key, ":")
	if idx <= 0 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

// ResolveTableName resolves the data table of a Feather database. It prefers
// the canonical name recorded in feather_metadata, else the first
// non-metadata table; returns ErrNotFound when no data table exists.
func ResolveTableName(conn *sql.DB) (string, error) {
	// Canonical name wins when recorded and present
	var canonical string
	err := conn.QueryRow(
		"SELECT value FROM "+MetadataTable+" WHERE key = ?", metadataTableNameKey,
	).Scan(&canonical)
	if err == nil && canonical != "" {
		var exists bool
		if err := conn.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)", canonical,
		).Scan(&exists); err == nil && exists {
			return canonical, nil
		}
	}

	rows, err := conn.Query(
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name",
	)
	if err != nil {
		return "", errors.Wrap(err, "list feather tables")
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", errors.Wrap(err, "scan feather table name")
		}
		if name == MetadataTable ||
			name == "schema_migrations" ||
			strings.HasPrefix(name, "sqlite_") {
			continue
		}
		return name, nil
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(err, "iterate feather tables")
	}

	return "", errors.NewNotFoundError("feather database has no data table")
}

// ReadMetadata reads the feather_metadata table. Unknown keys are preserved
// in Extra.
func ReadMetadata(conn *sql.DB) (*Metadata, error) {
	rows, err := conn.Query("SELECT key, value FROM " + MetadataTable)
	if err != nil {
		return nil, errors.Wrap(err, "read feather metadata")
	}
	defer rows.Close()

	meta := &Metadata{Extra: make(map[string]string)}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scan feather metadata row")
		}
		switch key {
		case "feather_id":
			meta.FeatherID = value
		case "artifact_type":
			meta.ArtifactType = value
		case "created_date":
			meta.CreatedDate = value
		default:
			meta.Extra[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate feather metadata")
	}

	return meta, nil
}
