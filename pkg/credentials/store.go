// Package credentials persists the canonical session cookie set and resolves
// which cookies to inject when a browser session starts.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/notebridge/pkg/cookies"
	"github.com/entrhq/notebridge/pkg/logging"
)

// ErrInvalidCredentials is returned by Save when the input yields no usable
// cookie.
var ErrInvalidCredentials = errors.New("no valid cookies found in input")

// Source identifies where resolved cookies came from.
type Source int

const (
	// SourceNone means nothing is injected and the browser profile is relied on.
	SourceNone Source = iota
	SourceFile
	SourceBrowser
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "credential file"
	case SourceBrowser:
		return "browser cookie database"
	default:
		return "none"
	}
}

// BrowserSource reads cookies from an installed browser.
type BrowserSource interface {
	ReadCookies(ctx context.Context) ([]cookies.Record, error)
}

// Option configures a Store.
type Option func(*Store)

// WithBrowserSource makes Resolve try src before the credential file.
func WithBrowserSource(src BrowserSource) Option {
	return func(s *Store) {
		s.browser = src
	}
}

// WithNormalizer sets the normalizer used for raw input and loaded records.
func WithNormalizer(n *cookies.Normalizer) Option {
	return func(s *Store) {
		if n != nil {
			s.normalizer = n
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logging.Must(l)
	}
}

// Store is the durable credential file. The file always holds the canonical
// JSON array of cookie records, never raw user input.
type Store struct {
	path       string
	browser    BrowserSource
	normalizer *cookies.Normalizer
	logger     *logging.Logger
}

// NewStore creates a store backed by the file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:       path,
		normalizer: cookies.NewNormalizer(cookies.DefaultRootDomain),
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the credential file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the credential file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Save normalizes raw and persists the result. It returns the number of
// cookies saved, or ErrInvalidCredentials when none are usable.
func (s *Store) Save(raw string) (int, error) {
	return s.SaveRecords(s.normalizer.Normalize(raw))
}

// SaveRecords canonicalizes records and persists them.
func (s *Store) SaveRecords(records []cookies.Record) (int, error) {
	canonical := s.normalizer.Canonicalize(records)
	if len(canonical) == 0 {
		return 0, ErrInvalidCredentials
	}
	if err := s.write(canonical); err != nil {
		return 0, err
	}
	s.logger.Infof("saved %d cookies to %s: %v", len(canonical), s.path, cookies.Names(canonical))
	return len(canonical), nil
}

// Load reads the credential file. A missing file is not an error: it means
// the browser profile is relied on. Unreadable or corrupt files are logged
// and treated as missing.
func (s *Store) Load() ([]cookies.Record, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warnf("failed to read credential file %s: %v", s.path, err)
		}
		return nil, false
	}

	var records []cookies.Record
	if err := json.Unmarshal(data, &records); err == nil {
		records = s.normalizer.Canonicalize(records)
	} else {
		// Hand-edited files may hold any accepted export format.
		records = s.normalizer.Normalize(string(data))
	}
	if len(records) == 0 {
		s.logger.Warnf("credential file %s holds no usable cookies", s.path)
		return nil, false
	}
	return records, true
}

// Resolve picks the cookies to inject into a new session: the browser cookie
// database first, then the credential file, then nothing. Failures of the
// browser source are logged and fall through.
func (s *Store) Resolve(ctx context.Context) ([]cookies.Record, Source) {
	if s.browser != nil {
		records, err := s.browser.ReadCookies(ctx)
		switch {
		case err != nil:
			s.logger.Debugf("browser cookie database unavailable: %v", err)
		default:
			if records = s.normalizer.Canonicalize(records); len(records) > 0 {
				return records, SourceBrowser
			}
			s.logger.Debugf("browser cookie database has no matching cookies")
		}
	}

	if records, ok := s.Load(); ok {
		return records, SourceFile
	}
	return nil, SourceNone
}

// write replaces the credential file atomically.
func (s *Store) write(records []cookies.Record) error {
	data, err := cookies.Serialize(records)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := file.Chmod(0600); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to set credential file mode: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
