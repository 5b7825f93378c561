// Package sessionfile persists the backend session cookies between CLI
// invocations, alongside a little cached account metadata. Files are
// written atomically with owner-only permissions; cookie values are never
// logged.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// Cookie is the persisted subset of an HTTP cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// Session is what a login produces.
type Session struct {
	ServerURL string    `json:"server_url"`
	Cookies   []Cookie  `json:"cookies"`
	SavedAt   time.Time `json:"saved_at"`
}

// Expired reports whether every cookie with an expiry has passed it.
// Sessions whose cookies carry no expiry never expire client-side.
func (s *Session) Expired(now time.Time) bool {
	dated := false

	for _, c := range s.Cookies {
		if c.Expires.IsZero() || c.Expires.After(now) {
			return false
		}

		dated = true
	}

	return dated
}

// File is the on-disk format.
type File struct {
	Session *Session          `json:"session"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Load reads a saved session. Returns (nil, nil, nil) if the file does not
// exist.
func Load(path string) (*Session, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("sessionfile: reading %s: %w", path, err)
	}

	var sf File
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("sessionfile: decoding %s: %w", path, err)
	}

	if sf.Session == nil {
		return nil, nil, fmt.Errorf("sessionfile: %s missing session field (re-login required)", path)
	}

	if len(sf.Session.Cookies) == 0 {
		return nil, nil, fmt.Errorf("sessionfile: %s has empty credentials (re-login required)", path)
	}

	return sf.Session, sf.Meta, nil
}

// Save writes a session file atomically (write-to-temp + rename) with 0600
// permissions.
func Save(path string, s *Session, meta map[string]string) error {
	if s == nil {
		return errors.New("sessionfile: refusing to save nil session")
	}

	data, err := json.MarshalIndent(File{Session: s, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("sessionfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessionfile: renaming: %w", err)
	}

	success = true

	return nil
}

// MergeMeta loads the session, overlays meta (new keys win) and saves.
func MergeMeta(path string, meta map[string]string) error {
	s, existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading session for metadata update: %w", err)
	}

	if s == nil {
		return fmt.Errorf("no session file at %s", path)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(path, s, existing)
}

// Remove deletes the session file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sessionfile: removing %s: %w", path, err)
	}

	return nil
}

// NewJar returns a cookie jar seeded with s's cookies for its server. A nil
// session yields an empty jar.
func NewJar(s *Session) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: creating cookie jar: %w", err)
	}

	if s == nil {
		return jar, nil
	}

	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: parsing server url: %w", err)
	}

	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}

	jar.SetCookies(u, cookies)

	return jar, nil
}

// Capture snapshots the cookies a jar holds for serverURL. The jar only
// returns name and value, so attributes from previous are carried over
// for cookies that kept their name.
func Capture(jar http.CookieJar, serverURL string, previous *Session, now time.Time) (*Session, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: parsing server url: %w", err)
	}

	prev := make(map[string]Cookie)
	if previous != nil {
		for _, c := range previous.Cookies {
			prev[c.Name] = c
		}
	}

	s := &Session{ServerURL: serverURL, SavedAt: now}

	for _, hc := range jar.Cookies(u) {
		c := prev[hc.Name]
		c.Name = hc.Name
		c.Value = hc.Value
		s.Cookies = append(s.Cookies, c)
	}

	return s, nil
}

// FromCookieHeader builds a session from a "name=value; name2=value2"
// string, as copied from a browser after signing in.
func FromCookieHeader(serverURL, header string, now time.Time) (*Session, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: parsing server url: %w", err)
	}

	parsed, err := http.ParseCookie(header)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: parsing cookie: %w", err)
	}

	if len(parsed) == 0 {
		return nil, errors.New("sessionfile: no cookies in header")
	}

	s := &Session{ServerURL: serverURL, SavedAt: now}
	for _, c := range parsed {
		s.Cookies = append(s.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     "/",
			Secure:   u.Scheme == "https",
			HTTPOnly: true,
		})
	}

	return s, nil
}
