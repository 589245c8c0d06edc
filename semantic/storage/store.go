// Package storage provides SQLite access to the matches table: the
// correlation output this engine reads, classifies, and amends.
package storage

import (
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/semantic/types"
)

// Query constants
const (
	matchSelectColumns = `match_id, feather_records, matched_application, matched_file_path, semantic_data`

	// MatchesByIdentityQuery finds matches whose application or file path
	// contains the identity substring
	MatchesByIdentityQuery = `
		SELECT ` + matchSelectColumns + `
		FROM matches
		WHERE matched_application LIKE ? ESCAPE '\'
		   OR matched_file_path LIKE ? ESCAPE '\'`

	// MatchesSelectQuery is the base SELECT for batch evaluation
	MatchesSelectQuery = `
		SELECT ` + matchSelectColumns + `
		FROM matches
		ORDER BY match_id`

	semanticDataSelectQuery = `SELECT semantic_data FROM matches WHERE match_id = ?`
	semanticDataUpdateQuery = `UPDATE matches SET semantic_data = ? WHERE match_id = ?`
)

// MatchStore reads and amends the matches table. Reads are tolerant: a row
// whose JSON payloads cannot be decoded is skipped with a logged warning so
// one corrupt row never aborts a batch.
type MatchStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewMatchStore creates a match store over an open case database.
func NewMatchStore(db *sql.DB, logger *zap.SugaredLogger) *MatchStore {
	return &MatchStore{
		db:     db,
		logger: logger,
	}
}

// GetMatchesForIdentity returns every match whose matched_application or
// matched_file_path contains the identity substring.
func (s *MatchStore) GetMatchesForIdentity(identity string) ([]*types.Match, error) {
	pattern := "%" + escapeLikePattern(identity) + "%"
	rows, err := s.db.Query(MatchesByIdentityQuery, pattern, pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "query matches for identity %q", identity)
	}
	defer rows.Close()

	return s.collectMatches(rows)
}

// GetMatchesByIDs returns the matches with the given IDs, skipping unknown
// IDs silently. Used by the FTS pre-filter path.
func (s *MatchStore) GetMatchesByIDs(matchIDs []string) ([]*types.Match, error) {
	if len(matchIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(matchIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT ` + matchSelectColumns + ` FROM matches WHERE match_id IN (` + placeholders + `)`

	args := make([]interface{}, len(matchIDs))
	for i, id := range matchIDs {
		args[i] = id
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query matches by ids")
	}
	defer rows.Close()

	return s.collectMatches(rows)
}

// GetAllMatches returns every match, up to limit when limit > 0.
func (s *MatchStore) GetAllMatches(limit int) ([]*types.Match, error) {
	query := MatchesSelectQuery
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query all matches")
	}
	defer rows.Close()

	return s.collectMatches(rows)
}

func (s *MatchStore) collectMatches(rows *sql.Rows) ([]*types.Match, error) {
	var matches []*types.Match
	for rows.Next() {
		var (
			matchID        string
			featherRecords []byte
			application    string
			filePath       string
			semanticData   []byte
		)
		if err := rows.Scan(&matchID, &featherRecords, &application, &filePath, &semanticData); err != nil {
			return nil, errors.Wrap(err, "scan match row")
		}

		records, err := types.DecodeFeatherRecords(featherRecords, s.logger)
		if err != nil {
			if s.logger != nil {
				s.logger.Warnw("Skipping match with malformed feather_records",
					"match_id", matchID,
					"error", err,
				)
			}
			continue
		}

		semantic, err := types.DecodeSemanticData(semanticData)
		if err != nil {
			// Feather records are still evaluable; keep the match but
			// surface the corruption
			if s.logger != nil {
				s.logger.Warnw("Match has malformed semantic_data, treating as empty",
					"match_id", matchID,
					"error", err,
				)
			}
			semantic = map[string]*types.MatchResult{}
		}

		matches = append(matches, &types.Match{
			MatchID:        matchID,
			Application:    application,
			FilePath:       filePath,
			FeatherRecords: records,
			SemanticData:   semantic,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate match rows")
	}
	return matches, nil
}

// UpdateSemanticData merges the given rule results into each match's
// existing semantic_data under a per-match transaction, so repeated passes
// are additive and idempotent for unchanged rules. One match failing to
// update is logged and skipped; it returns the number of matches updated.
// An error is returned only when every requested update failed.
func (s *MatchStore) UpdateSemanticData(matchIDs []string, results []*types.MatchResult) (int, error) {
	if len(matchIDs) == 0 || len(results) == 0 {
		return 0, nil
	}

	updated := 0
	var lastErr error
	for _, matchID := range matchIDs {
		if err := s.mergeSemanticData(matchID, results); err != nil {
			lastErr = err
			if s.logger != nil {
				s.logger.Errorw("Failed to update semantic_data, continuing with remaining matches",
					"match_id", matchID,
					"error", err,
				)
			}
			continue
		}
		updated++
	}

	if updated == 0 && lastErr != nil {
		return 0, errors.Wrap(lastErr, "update semantic data")
	}
	return updated, nil
}

// mergeSemanticData performs the read-modify-write for one match inside a
// transaction; concurrent writers to the same match serialize here.
func (s *MatchStore) mergeSemanticData(matchID string, results []*types.MatchResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	var raw []byte
	if err := tx.QueryRow(semanticDataSelectQuery, matchID).Scan(&raw); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return errors.NewNotFoundError("match %s", matchID)
		}
		return errors.Wrap(err, "read semantic_data")
	}

	data, err := types.DecodeSemanticData(raw)
	if err != nil {
		// Unreadable annotations cannot be merged into; leave the row as
		// evidence rather than overwrite it
		tx.Rollback()
		return errors.Wrapf(errors.ErrMalformedRecord, "semantic_data of match %s: %v", matchID, err)
	}

	for _, result := range results {
		data[result.RuleID] = result
	}

	encoded, err := types.EncodeSemanticData(data)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "encode semantic_data")
	}

	if _, err := tx.Exec(semanticDataUpdateQuery, encoded, matchID); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "write semantic_data")
	}

	return tx.Commit()
}

// escapeLikePattern escapes special characters in LIKE patterns for the SQL
// ESCAPE clause
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
