package feather

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strix-dfir/strix/db"
)

func setupFeatherDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMakeIdentityKey(t *testing.T) {
	assert.Equal(t, "name:chrome.exe", MakeIdentityKey("name", "Chrome.exe"))
	assert.Equal(t, "path:c:\\users\\app.lnk", MakeIdentityKey("path", " C:\\Users\\app.lnk "))
}

func TestSplitIdentityKey(t *testing.T) {
	testCases := []struct {
		name     string
		key      string
		wantType string
		wantVal  string
		wantOK   bool
	}{
		{"simple", "name:chrome.exe", "name", "chrome.exe", true},
		{"value with colons", "path:c:\\windows\\explorer.exe", "path", "c:\\windows\\explorer.exe", true},
		{"no separator", "chrome.exe", "", "", false},
		{"leading separator", ":value", "", "", false},
		{"empty", "", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			typ, val, ok := SplitIdentityKey(tc.key)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantType, typ)
			assert.Equal(t, tc.wantVal, val)
		})
	}
}

func TestResolveTableName(t *testing.T) {
	t.Run("prefers canonical name from metadata", func(t *testing.T) {
		conn := setupFeatherDB(t)
		_, err := conn.Exec(`
			CREATE TABLE feather_metadata (key TEXT, value TEXT);
			CREATE TABLE aaa_other (identity_key TEXT);
			CREATE TABLE prefetch_records (identity_key TEXT);
			INSERT INTO feather_metadata VALUES ('table_name', 'prefetch_records');
		`)
		require.NoError(t, err)

		name, err := ResolveTableName(conn)
		require.NoError(t, err)
		assert.Equal(t, "prefetch_records", name)
	})

	t.Run("falls back to first data table", func(t *testing.T) {
		conn := setupFeatherDB(t)
		_, err := conn.Exec(`
			CREATE TABLE feather_metadata (key TEXT, value TEXT);
			CREATE TABLE lnk_records (identity_key TEXT);
		`)
		require.NoError(t, err)

		name, err := ResolveTableName(conn)
		require.NoError(t, err)
		assert.Equal(t, "lnk_records", name)
	})

	t.Run("ignores stale canonical name", func(t *testing.T) {
		conn := setupFeatherDB(t)
		_, err := conn.Exec(`
			CREATE TABLE feather_metadata (key TEXT, value TEXT);
			CREATE TABLE lnk_records (identity_key TEXT);
			INSERT INTO feather_metadata VALUES ('table_name', 'dropped_table');
		`)
		require.NoError(t, err)

		name, err := ResolveTableName(conn)
		require.NoError(t, err)
		assert.Equal(t, "lnk_records", name)
	})

	t.Run("errors when only metadata exists", func(t *testing.T) {
		conn := setupFeatherDB(t)
		_, err := conn.Exec(`CREATE TABLE feather_metadata (key TEXT, value TEXT)`)
		require.NoError(t, err)

		_, err = ResolveTableName(conn)
		assert.Error(t, err)
	})
}

func TestReadMetadata(t *testing.T) {
	conn := setupFeatherDB(t)
	_, err := conn.Exec(`
		CREATE TABLE feather_metadata (key TEXT, value TEXT);
		INSERT INTO feather_metadata VALUES
			('feather_id', 'Prefetch'),
			('artifact_type', 'prefetch'),
			('created_date', '2026-08-01T10:00:00Z'),
			('collector_version', '1.4.2');
	`)
	require.NoError(t, err)

	meta, err := ReadMetadata(conn)
	require.NoError(t, err)
	assert.Equal(t, "Prefetch", meta.FeatherID)
	assert.Equal(t, "prefetch", meta.ArtifactType)
	assert.Equal(t, "2026-08-01T10:00:00Z", meta.CreatedDate)
	assert.Equal(t, "1.4.2", meta.Extra["collector_version"])
}
