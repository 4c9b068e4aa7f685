package credentials

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/entrhq/notebridge/pkg/cookies"
)

type chromeRow struct {
	Name       string
	Value      string
	Encrypted  []byte
	HostKey    string
	Path       string
	ExpiresUTC int64
	IsSecure   int
	IsHTTPOnly int
	SameSite   int
}

func createChromeFixture(t *testing.T, path string, rows []chromeRow) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE cookies (
        creation_utc INTEGER NOT NULL,
        host_key TEXT NOT NULL,
        name TEXT NOT NULL,
        value TEXT NOT NULL,
        encrypted_value BLOB NOT NULL DEFAULT x'',
        path TEXT NOT NULL DEFAULT '/',
        expires_utc INTEGER NOT NULL DEFAULT 0,
        is_secure INTEGER NOT NULL DEFAULT 0,
        is_httponly INTEGER NOT NULL DEFAULT 0,
        samesite INTEGER NOT NULL DEFAULT -1
    )`)
	require.NoError(t, err)

	for _, r := range rows {
		enc := r.Encrypted
		if enc == nil {
			enc = []byte{}
		}
		_, err = db.Exec(`INSERT INTO cookies (creation_utc, host_key, name, value, encrypted_value, path, expires_utc, is_secure, is_httponly, samesite)
            VALUES (0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.HostKey, r.Name, r.Value, enc, r.Path, r.ExpiresUTC, r.IsSecure, r.IsHTTPOnly, r.SameSite)
		require.NoError(t, err)
	}
	return path
}

func createFirefoxFixture(t *testing.T, path string, host, name, value string, expiry int64) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE moz_cookies (
        id INTEGER PRIMARY KEY,
        name TEXT, value TEXT, host TEXT, path TEXT,
        expiry INTEGER, isSecure INTEGER, isHttpOnly INTEGER, sameSite INTEGER
    )`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO moz_cookies (name, value, host, path, expiry, isSecure, isHttpOnly, sameSite)
        VALUES (?, ?, ?, '/', ?, 1, 1, 2)`, name, value, host, expiry)
	require.NoError(t, err)
	return path
}

func names(records []cookies.Record) []string {
	return cookies.Names(records)
}

func TestBrowserDB_Chrome(t *testing.T) {
	future := unixToChrome(time.Now().Add(24 * time.Hour).Unix())
	past := unixToChrome(time.Now().Add(-24 * time.Hour).Unix())

	path := createChromeFixture(t, filepath.Join(t.TempDir(), "Cookies"), []chromeRow{
		{Name: "SID", Value: "abc", HostKey: ".google.com", Path: "/", ExpiresUTC: future, IsSecure: 1, IsHTTPOnly: 1, SameSite: 0},
		{Name: "NB", Value: "nb", HostKey: "notebooklm.google.com", Path: "/", ExpiresUTC: 0, SameSite: 2},
		{Name: "OLD", Value: "gone", HostKey: ".google.com", Path: "/", ExpiresUTC: past},
		{Name: "ENC", Value: "", Encrypted: []byte("v10secret"), HostKey: ".google.com", Path: "/", ExpiresUTC: future},
		{Name: "OTHER", Value: "x", HostKey: ".example.com", Path: "/", ExpiresUTC: future},
		{Name: "LOOKALIKE", Value: "x", HostKey: "evilgoogle.com", Path: "/", ExpiresUTC: future},
	})

	db, err := NewBrowserDB(path, nil)
	require.NoError(t, err)

	records, err := db.ReadCookies(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SID", "NB"}, names(records))

	for _, r := range records {
		switch r.Name {
		case "SID":
			assert.True(t, r.Secure)
			assert.True(t, r.HTTPOnly)
			assert.Equal(t, cookies.SameSiteNone, r.SameSite)
			require.NotNil(t, r.Expires)
			assert.InDelta(t, float64(time.Now().Add(24*time.Hour).Unix()), *r.Expires, 5)
		case "NB":
			assert.Nil(t, r.Expires, "session cookie")
			assert.Equal(t, cookies.SameSiteStrict, r.SameSite)
		}
	}
}

func TestBrowserDB_Firefox(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	path := createFirefoxFixture(t, filepath.Join(t.TempDir(), "cookies.sqlite"), ".google.com", "SID", "ff", future)

	db, err := NewBrowserDB(path, []string{"*.google.com", "google.com"})
	require.NoError(t, err)

	records, err := db.ReadCookies(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ff", records[0].Value)
	assert.Equal(t, cookies.SameSiteStrict, records[0].SameSite)
	assert.True(t, records[0].HTTPOnly)
}

func TestBrowserDB_DetectsInstalledStore(t *testing.T) {
	home := t.TempDir()
	future := unixToChrome(time.Now().Add(time.Hour).Unix())
	createChromeFixture(t, filepath.Join(home, ".config", "chromium", "Default", "Network", "Cookies"), []chromeRow{
		{Name: "SID", Value: "detected", HostKey: ".google.com", Path: "/", ExpiresUTC: future},
	})

	db, err := NewBrowserDB("", nil)
	require.NoError(t, err)
	db.stores = browserStoresFor("linux", home, "", "")

	records, err := db.ReadCookies(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "detected", records[0].Value)
}

func TestBrowserDB_NoStore(t *testing.T) {
	db, err := NewBrowserDB("", nil)
	require.NoError(t, err)
	db.stores = browserStoresFor("linux", t.TempDir(), "", "")

	_, err = db.ReadCookies(context.Background())
	assert.ErrorIs(t, err, ErrNoBrowserStore)
}

func TestBrowserDB_Errors(t *testing.T) {
	_, err := NewBrowserDB("", []string{"[unterminated"})
	assert.Error(t, err)

	dir := t.TempDir()
	empty := filepath.Join(dir, "Cookies")
	require.NoError(t, os.WriteFile(empty, nil, 0600))

	db, err := NewBrowserDB(empty, nil)
	require.NoError(t, err)
	_, err = db.ReadCookies(context.Background())
	assert.Error(t, err)

	db, err = NewBrowserDB(filepath.Join(dir, "missing"), nil)
	require.NoError(t, err)
	_, err = db.ReadCookies(context.Background())
	assert.Error(t, err)
}

func TestBrowserDB_StoreIntegration(t *testing.T) {
	future := unixToChrome(time.Now().Add(time.Hour).Unix())
	path := createChromeFixture(t, filepath.Join(t.TempDir(), "Cookies"), []chromeRow{
		{Name: "SID", Value: "db", HostKey: "google.com", Path: "", ExpiresUTC: future},
	})
	db, err := NewBrowserDB(path, nil)
	require.NoError(t, err)

	store := newTestStore(t, WithBrowserSource(db))
	records, source := store.Resolve(context.Background())

	assert.Equal(t, SourceBrowser, source)
	require.Len(t, records, 1)
	assert.Equal(t, ".google.com", records[0].Domain)
	assert.Equal(t, "/", records[0].Path)
}

func TestDefaultFirefoxProfile(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "profiles.ini")

	t.Run("install section wins", func(t *testing.T) {
		require.NoError(t, os.WriteFile(ini, []byte(`[Install4F96D1932A9F858E]
Default=Profiles/abc.default-release
Locked=1

[Profile0]
Name=default
IsRelative=1
Path=Profiles/old.default
Default=1
`), 0600))
		assert.Equal(t, filepath.Join(dir, "Profiles", "abc.default-release"), defaultFirefoxProfile(ini))
	})

	t.Run("profile default fallback", func(t *testing.T) {
		require.NoError(t, os.WriteFile(ini, []byte(`[Profile1]
Path=Profiles/other
[Profile0]
Path=Profiles/main
Default=1
`), 0600))
		assert.Equal(t, filepath.Join(dir, "Profiles", "main"), defaultFirefoxProfile(ini))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Empty(t, defaultFirefoxProfile(filepath.Join(dir, "nope.ini")))
	})
}

func TestBrowserStoresFor(t *testing.T) {
	stores := browserStoresFor("darwin", "/Users/me", "", "")
	require.NotEmpty(t, stores)
	assert.Equal(t, "Chrome", stores[0].Name)
	assert.Equal(t, filepath.Join("/Users/me", "Library", "Application Support", "Google", "Chrome", "Default", "Network", "Cookies"), stores[0].CookiePaths[0])
	assert.Equal(t, "Firefox", stores[len(stores)-1].Name)

	windows := browserStoresFor("windows", "", "", "")
	assert.Empty(t, windows, "no store without app data directories")
}
