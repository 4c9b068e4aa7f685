package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	_ "modernc.org/sqlite"

	"github.com/entrhq/notebridge/pkg/cookies"
)

// ErrNoBrowserStore is returned when no supported cookie database exists.
var ErrNoBrowserStore = errors.New("no supported browser cookie store found (tried Chrome, Chromium, Edge, Brave, Firefox)")

// DefaultDomains are the host patterns read from a browser cookie database.
var DefaultDomains = []string{"google.com", "*.google.com"}

// chromeEpochOffset is the number of seconds between 1601-01-01 and the Unix
// epoch. Chrome stores timestamps as microseconds since 1601.
const chromeEpochOffset int64 = 11_644_473_600

func chromeToUnix(usec int64) int64 {
	return usec/1_000_000 - chromeEpochOffset
}

func unixToChrome(sec int64) int64 {
	return (sec + chromeEpochOffset) * 1_000_000
}

// BrowserDB reads session cookies straight from an installed browser's
// cookie database. The database is copied before reading so a running
// browser holding its lock does not block the read. Encrypted values are
// skipped; the OS keychain is never consulted.
type BrowserDB struct {
	path    string
	domains []glob.Glob
	stores  []browserStore
	now     func() time.Time
}

// NewBrowserDB creates a reader. An empty path auto-detects the database;
// empty domains means DefaultDomains.
func NewBrowserDB(path string, domains []string) (*BrowserDB, error) {
	if len(domains) == 0 {
		domains = DefaultDomains
	}
	b := &BrowserDB{path: path, now: time.Now}
	for _, pattern := range domains {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid cookie domain pattern %q: %w", pattern, err)
		}
		b.domains = append(b.domains, g)
	}
	return b, nil
}

// ReadCookies implements BrowserSource.
func (b *BrowserDB) ReadCookies(ctx context.Context) ([]cookies.Record, error) {
	path := b.path
	if path == "" {
		stores := b.stores
		if stores == nil {
			stores = defaultBrowserStores()
		}
		for _, store := range stores {
			if p, ok := store.cookieFile(); ok {
				path = p
				break
			}
		}
		if path == "" {
			return nil, ErrNoBrowserStore
		}
	}
	return b.readFile(ctx, path)
}

func (b *BrowserDB) readFile(ctx context.Context, path string) ([]cookies.Record, error) {
	tempDir, cleanup, err := safeCopy(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	dsn := fmt.Sprintf("file:%s?immutable=1", filepath.Join(tempDir, filepath.Base(path)))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open cookie database: %w", err)
	}
	defer db.Close()

	var table string
	err = db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('moz_cookies', 'cookies') ORDER BY name DESC LIMIT 1`,
	).Scan(&table)
	if err != nil {
		return nil, fmt.Errorf("unsupported cookie database schema at %s: %w", path, err)
	}

	var records []cookies.Record
	if table == "moz_cookies" {
		records, err = b.readFirefox(ctx, db)
	} else {
		records, err = b.readChrome(ctx, db)
	}
	if err != nil {
		return nil, err
	}
	return b.filter(records), nil
}

// readChrome selects unexpired, unencrypted rows. expires_utc 0 marks a
// session cookie.
func (b *BrowserDB) readChrome(ctx context.Context, db *sql.DB) ([]cookies.Record, error) {
	now := unixToChrome(b.now().Unix())
	rows, err := db.QueryContext(ctx, `
        SELECT name, value, host_key, path, expires_utc, is_secure, is_httponly, samesite
        FROM cookies
        WHERE value != ''
          AND (expires_utc = 0 OR expires_utc > ?)
        ORDER BY host_key, name
    `, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query Chrome cookies: %w", err)
	}
	defer rows.Close()

	var records []cookies.Record
	for rows.Next() {
		var (
			name, value, host, path string
			expires                 int64
			secure, httpOnly        int
			sameSite                int
		)
		if err := rows.Scan(&name, &value, &host, &path, &expires, &secure, &httpOnly, &sameSite); err != nil {
			return nil, fmt.Errorf("failed to scan Chrome cookie row: %w", err)
		}
		r := cookies.Record{
			Name:     name,
			Value:    value,
			Domain:   host,
			Path:     path,
			Secure:   secure != 0,
			HTTPOnly: httpOnly != 0,
			SameSite: chromeSameSite(sameSite),
		}
		if expires != 0 {
			exp := float64(chromeToUnix(expires))
			r.Expires = &exp
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate Chrome cookie rows: %w", err)
	}
	return records, nil
}

func (b *BrowserDB) readFirefox(ctx context.Context, db *sql.DB) ([]cookies.Record, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT name, value, host, path, expiry, isSecure, isHttpOnly, sameSite
        FROM moz_cookies
        WHERE expiry > ?
        ORDER BY host, name
    `, b.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query Firefox cookies: %w", err)
	}
	defer rows.Close()

	var records []cookies.Record
	for rows.Next() {
		var (
			name, value, host, path string
			expiry                  int64
			secure, httpOnly        int
			sameSite                int
		)
		if err := rows.Scan(&name, &value, &host, &path, &expiry, &secure, &httpOnly, &sameSite); err != nil {
			return nil, fmt.Errorf("failed to scan Firefox cookie row: %w", err)
		}
		exp := float64(expiry)
		records = append(records, cookies.Record{
			Name:     name,
			Value:    value,
			Domain:   host,
			Path:     path,
			Secure:   secure != 0,
			HTTPOnly: httpOnly != 0,
			SameSite: firefoxSameSite(sameSite),
			Expires:  &exp,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate Firefox cookie rows: %w", err)
	}
	return records, nil
}

// filter keeps records whose host matches a domain pattern.
func (b *BrowserDB) filter(records []cookies.Record) []cookies.Record {
	kept := records[:0]
	for _, r := range records {
		host := strings.ToLower(strings.TrimPrefix(r.Domain, "."))
		for _, g := range b.domains {
			if g.Match(host) {
				kept = append(kept, r)
				break
			}
		}
	}
	return kept
}

// chromeSameSite maps Chrome's samesite column (-1 unspecified,
// 0 no_restriction, 1 lax, 2 strict).
func chromeSameSite(v int) string {
	switch v {
	case 0:
		return cookies.SameSiteNone
	case 2:
		return cookies.SameSiteStrict
	default:
		return cookies.SameSiteLax
	}
}

// firefoxSameSite maps Firefox's sameSite column (0 none, 1 lax, 2 strict).
func firefoxSameSite(v int) string {
	switch v {
	case 0:
		return cookies.SameSiteNone
	case 2:
		return cookies.SameSiteStrict
	default:
		return cookies.SameSiteLax
	}
}

// safeCopy copies a SQLite database and its -wal/-shm companions into a
// temporary directory. The caller must call cleanup.
func safeCopy(src string) (dir string, cleanup func(), err error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", nil, fmt.Errorf("cookie database not found: %s", src)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory, expected a cookie database", src)
	}
	if info.Size() == 0 {
		return "", nil, fmt.Errorf("cookie database at %s is empty", src)
	}

	dir, err = os.MkdirTemp("", "notebridge-cookies-*")
	if err != nil {
		return "", nil, fmt.Errorf("cannot create temp directory: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	base := filepath.Base(src)
	if err := copyFile(src, filepath.Join(dir, base)); err != nil {
		cleanup()
		return "", nil, err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(src + suffix); err == nil {
			_ = copyFile(src+suffix, filepath.Join(dir, base+suffix))
		}
	}
	return dir, cleanup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("cannot copy %s: %w", src, err)
	}
	return out.Close()
}
