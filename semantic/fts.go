package semantic

import (
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/strix-dfir/strix/errors"
)

// ftsMinQueryLen is the shortest identity the trigram index can answer; the
// tokenizer cannot index anything shorter, so such lookups fall back to a
// LIKE scan.
const ftsMinQueryLen = 3

const (
	ftsProbeSQL = `CREATE VIRTUAL TABLE temp.strix_fts_probe USING fts5(x, tokenize='trigram')`
	ftsDropSQL  = `DROP TABLE temp.strix_fts_probe`

	// External-content table over matches: index stays in sync via rebuilds,
	// queries map back to match_id through the content table's rowid
	ftsCreateSQL = `
		CREATE VIRTUAL TABLE IF NOT EXISTS matches_fts USING fts5(
			matched_application,
			matched_file_path,
			content='matches',
			tokenize='trigram'
		)`

	ftsRebuildSQL = `INSERT INTO matches_fts(matches_fts) VALUES('rebuild')`

	ftsSearchSQL = `
		SELECT m.match_id
		FROM matches_fts
		JOIN matches m ON m.rowid = matches_fts.rowid
		WHERE matches_fts MATCH ?`
)

// ftsIndex accelerates identity lookups with a trigram FTS5 index over the
// matched_application and matched_file_path columns. It is strictly an
// optimization: when FTS5 is not compiled into the SQLite build, or the
// identity is too short to index, the caller falls back to the LIKE scan and
// results are identical.
type ftsIndex struct {
	db      *sql.DB
	logger  *zap.SugaredLogger
	enabled bool
}

// newFTSIndex probes for FTS5 support and, when available, creates and
// populates the index. A build without FTS5 yields a disabled index, never an
// error.
func newFTSIndex(db *sql.DB, logger *zap.SugaredLogger) (*ftsIndex, error) {
	f := &ftsIndex{db: db, logger: logger}

	if !probeFTS5(db) {
		if logger != nil {
			logger.Infow("FTS5 unavailable in this SQLite build, identity lookups use LIKE scans")
		}
		return f, nil
	}

	if _, err := db.Exec(ftsCreateSQL); err != nil {
		return nil, errors.Wrap(err, "create matches_fts")
	}
	if err := f.rebuild(); err != nil {
		return nil, err
	}

	f.enabled = true
	if logger != nil {
		logger.Debugw("FTS5 identity index ready")
	}
	return f, nil
}

// probeFTS5 checks at runtime whether this SQLite build supports FTS5 with
// the trigram tokenizer. Compile-time detection is impossible from Go, so a
// throwaway temp table is the authoritative test.
func probeFTS5(db *sql.DB) bool {
	if _, err := db.Exec(ftsProbeSQL); err != nil {
		return false
	}
	db.Exec(ftsDropSQL)
	return true
}

// rebuild re-derives the whole index from the matches table. External-content
// FTS5 tables do not observe writes to their content table, so the index is
// rebuilt before each evaluation pass rather than kept incrementally in sync
// with a correlator that writes matches out of process.
func (f *ftsIndex) rebuild() error {
	if _, err := f.db.Exec(ftsRebuildSQL); err != nil {
		return errors.Wrap(err, "rebuild matches_fts")
	}
	return nil
}

// Refresh rebuilds the index when enabled; disabled indexes no-op.
func (f *ftsIndex) Refresh() error {
	if !f.enabled {
		return nil
	}
	return f.rebuild()
}

// Search returns candidate match IDs whose application or file path contains
// the identity substring. ok=false means the index could not answer (disabled
// or identity too short) and the caller must use the LIKE scan. Candidates
// are a superset only in the sense of tokenization quirks; callers re-verify
// with a direct substring check before trusting them.
func (f *ftsIndex) Search(identity string) ([]string, bool) {
	if !f.enabled || len(identity) < ftsMinQueryLen {
		return nil, false
	}

	rows, err := f.db.Query(ftsSearchSQL, quoteFTSPhrase(identity))
	if err != nil {
		// Treat a broken index as absent rather than failing the evaluation
		if f.logger != nil {
			f.logger.Warnw("FTS query failed, falling back to LIKE scan",
				"identity", identity,
				"error", err,
			)
		}
		return nil, false
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			if f.logger != nil {
				f.logger.Warnw("FTS scan failed, falling back to LIKE scan", "error", err)
			}
			return nil, false
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, false
	}
	return ids, true
}

// quoteFTSPhrase wraps the identity as a quoted FTS5 phrase so operators like
// AND, OR, NEAR, and punctuation inside the identity are taken literally.
func quoteFTSPhrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
