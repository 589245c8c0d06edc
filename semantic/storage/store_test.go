package storage

import (
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strix-dfir/strix/db"
	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/semantic/types"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn, nil))
	return conn
}

func insertMatch(t *testing.T, conn *sql.DB, matchID, application, filePath, featherRecords, semanticData string) {
	t.Helper()
	_, err := conn.Exec(
		`INSERT INTO matches (match_id, feather_records, matched_application, matched_file_path, semantic_data)
		 VALUES (?, ?, ?, ?, ?)`,
		matchID, featherRecords, application, filePath, semanticData,
	)
	require.NoError(t, err)
}

func TestGetMatchesForIdentity(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "chrome.exe", `C:\Program Files\chrome.exe`,
		`{"prefetch": [{"run_count": 12}]}`, `{}`)
	insertMatch(t, conn, "m2", "notepad.exe", `C:\Windows\notepad.exe`,
		`{}`, `{}`)
	insertMatch(t, conn, "m3", "svchost.exe", `C:\Temp\chrome.exe.bak`,
		`{}`, `{}`)

	testCases := []struct {
		name     string
		identity string
		wantIDs  []string
	}{
		{
			name:     "matches application substring",
			identity: "chrome.exe",
			wantIDs:  []string{"m1", "m3"},
		},
		{
			name:     "matches file path only",
			identity: "notepad",
			wantIDs:  []string{"m2"},
		},
		{
			name:     "no matches",
			identity: "powershell",
			wantIDs:  nil,
		},
		{
			name:     "LIKE metacharacters are literal",
			identity: "chrome_exe",
			wantIDs:  nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			matches, err := store.GetMatchesForIdentity(tc.identity)
			require.NoError(t, err)

			var ids []string
			for _, m := range matches {
				ids = append(ids, m.MatchID)
			}
			assert.ElementsMatch(t, tc.wantIDs, ids)
		})
	}
}

func TestGetMatchesForIdentityDecodesRecords(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "chrome.exe", "",
		`{"prefetch": [{"run_count": 12, "path": "C:\\chrome.exe"}], "browser_history": {"url": "http://x"}}`,
		`{"rule-1": {"rule_id": "rule-1", "rule_name": "r", "semantic_value": "browser", "matched_feathers": ["prefetch"], "matched_records": [], "confidence": 0.9}}`)

	matches, err := store.GetMatchesForIdentity("chrome")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Len(t, m.FeatherRecords["prefetch"], 1)
	// single-object feather payload normalizes to a one-record list
	assert.Len(t, m.FeatherRecords["browser_history"], 1)

	num, ok := m.FeatherRecords["prefetch"][0]["run_count"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, float64(12), num)

	require.Contains(t, m.SemanticData, "rule-1")
	assert.Equal(t, "browser", m.SemanticData["rule-1"].SemanticValue)
}

func TestGetMatchesSkipsMalformedFeatherRecords(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "bad", "chrome.exe", "", `{not json`, `{}`)
	insertMatch(t, conn, "good", "chrome.exe", "", `{}`, `{}`)

	matches, err := store.GetMatchesForIdentity("chrome")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "good", matches[0].MatchID)
}

func TestGetMatchesToleratesMalformedSemanticData(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "chrome.exe", "", `{}`, `{not json`)

	matches, err := store.GetMatchesForIdentity("chrome")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].SemanticData)
}

func TestGetMatchesByIDs(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "a", "", `{}`, `{}`)
	insertMatch(t, conn, "m2", "b", "", `{}`, `{}`)
	insertMatch(t, conn, "m3", "c", "", `{}`, `{}`)

	matches, err := store.GetMatchesByIDs([]string{"m1", "m3", "unknown"})
	require.NoError(t, err)

	var ids []string
	for _, m := range matches {
		ids = append(ids, m.MatchID)
	}
	assert.ElementsMatch(t, []string{"m1", "m3"}, ids)

	empty, err := store.GetMatchesByIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestGetAllMatchesLimit(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "a", "", `{}`, `{}`)
	insertMatch(t, conn, "m2", "b", "", `{}`, `{}`)
	insertMatch(t, conn, "m3", "c", "", `{}`, `{}`)

	all, err := store.GetAllMatches(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.GetAllMatches(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpdateSemanticDataMerges(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "chrome.exe", "", `{}`,
		`{"existing": {"rule_id": "existing", "rule_name": "old", "semantic_value": "keep", "matched_feathers": [], "matched_records": [], "confidence": 0.5}}`)

	result := &types.MatchResult{
		RuleID:        "rule-1",
		RuleName:      "browser activity",
		SemanticValue: "browser",
		Confidence:    0.9,
	}

	updated, err := store.UpdateSemanticData([]string{"m1"}, []*types.MatchResult{result})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	matches, err := store.GetMatchesByIDs([]string{"m1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data := matches[0].SemanticData
	require.Contains(t, data, "existing")
	require.Contains(t, data, "rule-1")
	assert.Equal(t, "keep", data["existing"].SemanticValue)
	assert.Equal(t, "browser", data["rule-1"].SemanticValue)
}

func TestUpdateSemanticDataIdempotent(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "m1", "chrome.exe", "", `{}`, `{}`)

	result := &types.MatchResult{RuleID: "rule-1", SemanticValue: "browser", Confidence: 0.9}

	for i := 0; i < 3; i++ {
		updated, err := store.UpdateSemanticData([]string{"m1"}, []*types.MatchResult{result})
		require.NoError(t, err)
		assert.Equal(t, 1, updated)
	}

	matches, err := store.GetMatchesByIDs([]string{"m1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Len(t, matches[0].SemanticData, 1)
}

func TestUpdateSemanticDataSkipsFailures(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	insertMatch(t, conn, "good", "chrome.exe", "", `{}`, `{}`)
	// Corrupt annotations refuse the merge rather than clobber the row
	insertMatch(t, conn, "corrupt", "chrome.exe", "", `{}`, `{not json`)

	result := &types.MatchResult{RuleID: "rule-1", SemanticValue: "browser"}

	updated, err := store.UpdateSemanticData([]string{"good", "corrupt", "missing"}, []*types.MatchResult{result})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	var raw string
	require.NoError(t, conn.QueryRow(`SELECT semantic_data FROM matches WHERE match_id = 'corrupt'`).Scan(&raw))
	assert.Equal(t, `{not json`, raw)
}

func TestUpdateSemanticDataAllFailed(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	result := &types.MatchResult{RuleID: "rule-1"}
	updated, err := store.UpdateSemanticData([]string{"missing"}, []*types.MatchResult{result})
	assert.Equal(t, 0, updated)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUpdateSemanticDataEmptyInputs(t *testing.T) {
	conn := setupTestDB(t)
	store := NewMatchStore(conn, nil)

	updated, err := store.UpdateSemanticData(nil, []*types.MatchResult{{RuleID: "r"}})
	require.NoError(t, err)
	assert.Zero(t, updated)

	updated, err = store.UpdateSemanticData([]string{"m1"}, nil)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestGetMatchesForIdentityQueryError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("disk I/O error"))

	store := NewMatchStore(mockDB, nil)
	_, err = store.GetMatchesForIdentity("chrome")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLikePattern(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"100%", "100\\%"},
		{"under_score", "under\\_score"},
		{`back\slash`, `back\\slash`},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, escapeLikePattern(tc.input))
		})
	}
}
