// Package flatfile implements the credential store as a text file holding
// one record per line.
package flatfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// Store is a CredentialStore backed by a single file. Every mutation reads
// the whole file, edits it in memory and replaces the file atomically.
//
// Store does not serialise read-modify-write cycles across callers; the
// gateway's lock does that.
type Store struct {
	path   string
	logger *slog.Logger

	// guards the temp file + rename sequence only
	writeMu sync.Mutex
}

var _ store.CredentialStore = (*Store)(nil)

func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger.With("component", "credential_store", "backend", "flatfile")}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// Init creates an empty credential file (and its directory) when missing.
func (s *Store) Init(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("%w: mkdir: %w", store.ErrStoreIO, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", store.ErrStoreIO, s.path, err)
	}
	s.logger.Info("created empty credential file", "path", s.path)
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", store.ErrStoreIO, s.path, err)
	}
	return nil
}

// entry is one non-blank line of the file. Lines that fail to parse are kept
// verbatim on rewrite and never match a lookup.
type entry struct {
	raw   string
	rec   types.Record
	valid bool
	dirty bool
}

// line renders the entry for writing. A dirty entry read from the file keeps
// its header text as found and only gets a new token segment.
func (e *entry) line() string {
	if !e.dirty {
		return e.raw
	}
	if e.raw == "" {
		return e.rec.Line()
	}
	head, _, _ := strings.Cut(e.raw, types.TokensSeparator)
	ids := make([]string, len(e.rec.Tokens))
	for i, t := range e.rec.Tokens {
		ids[i] = string(t)
	}
	return head + types.TokensSeparator + strings.Join(ids, types.FieldSeparator)
}

// emptyTokenSegment reports whether the raw line already ends in a token
// separator with nothing after it.
func (e *entry) emptyTokenSegment() bool {
	_, tail, found := strings.Cut(e.raw, types.TokensSeparator)
	return found && tail == ""
}

func (s *Store) load() ([]*entry, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", store.ErrStoreIO, s.path, err)
	}

	var entries []*entry
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for n := 1; sc.Scan(); n++ {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		e := &entry{raw: raw}
		rec, err := types.ParseRecord(raw)
		if err != nil {
			s.logger.Warn("skipping malformed credential line", "line", n, "err", err)
		} else {
			e.rec, e.valid = rec, true
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", store.ErrStoreIO, s.path, err)
	}
	return entries, nil
}

// save replaces the file with entries via a temp file in the same directory,
// so a crash leaves either the old or the new content on disk.
func (s *Store) save(entries []*entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.line())
		buf.WriteByte('\n')
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", store.ErrStoreIO, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp: %w", store.ErrStoreIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp: %w", store.ErrStoreIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %w", store.ErrStoreIO, err)
	}
	if fi, err := os.Stat(s.path); err == nil {
		_ = os.Chmod(tmpName, fi.Mode().Perm())
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename: %w", store.ErrStoreIO, err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func find(entries []*entry, id types.Identifier) *entry {
	for _, e := range entries {
		if e.valid && e.rec.Identity == id {
			return e
		}
	}
	return nil
}

func authenticated(entries []*entry, id types.Identifier, password string) bool {
	for _, e := range entries {
		if e.valid && e.rec.Identity == id && e.rec.Password == password {
			return true
		}
	}
	return false
}

// loadAuthenticated loads the file and checks the admin credentials in one
// pass over the same snapshot.
func (s *Store) loadAuthenticated(admin types.Identifier, password string) ([]*entry, bool, error) {
	entries, err := s.load()
	if err != nil {
		return nil, false, err
	}
	if !authenticated(entries, admin, password) {
		s.logger.Error("authentication failed", "identity", admin)
		return nil, false, nil
	}
	return entries, true, nil
}

func (s *Store) Authenticate(_ context.Context, id types.Identifier, password string) (bool, error) {
	_, ok, err := s.loadAuthenticated(id, password)
	return ok, err
}

func (s *Store) AddToken(_ context.Context, admin types.Identifier, password string, target, token types.Identifier) (store.Status, error) {
	entries, ok, err := s.loadAuthenticated(admin, password)
	if err != nil || !ok {
		return store.StatusAuthFailure, err
	}
	if !store.ValidToken(token) {
		return store.StatusInvalidArgument, nil
	}
	for _, e := range entries {
		if e.valid && e.rec.HasToken(token) {
			s.logger.Warn("token already assigned", "token", token, "owner", e.rec.Identity)
			return store.StatusDuplicateToken, nil
		}
	}
	e := find(entries, target)
	if e == nil {
		return store.StatusNotFound, nil
	}

	e.rec.Tokens = append(e.rec.Tokens, token)
	e.dirty = true
	if err := s.save(entries); err != nil {
		return store.StatusOK, err
	}
	s.logger.Info("token added", "target", target, "by", admin)
	return store.StatusOK, nil
}

func (s *Store) DeleteToken(_ context.Context, admin types.Identifier, password string, target, token types.Identifier) (store.Status, error) {
	entries, ok, err := s.loadAuthenticated(admin, password)
	if err != nil || !ok {
		return store.StatusAuthFailure, err
	}
	e := find(entries, target)
	if e == nil {
		return store.StatusNotFound, nil
	}
	if !e.rec.HasToken(token) {
		return store.StatusNoChange, nil
	}

	kept := e.rec.Tokens[:0]
	for _, t := range e.rec.Tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	e.rec.Tokens = kept
	e.dirty = true
	if err := s.save(entries); err != nil {
		return store.StatusOK, err
	}
	s.logger.Info("token deleted", "target", target, "by", admin)
	return store.StatusOK, nil
}

func (s *Store) DeleteAllTokens(_ context.Context, admin types.Identifier, password string, target types.Identifier) (store.Status, error) {
	entries, ok, err := s.loadAuthenticated(admin, password)
	if err != nil || !ok {
		return store.StatusAuthFailure, err
	}
	e := find(entries, target)
	if e == nil {
		return store.StatusNotFound, nil
	}
	if len(e.rec.Tokens) == 0 && e.emptyTokenSegment() {
		return store.StatusNoChange, nil
	}

	e.rec.Tokens = nil
	e.dirty = true
	if err := s.save(entries); err != nil {
		return store.StatusOK, err
	}
	s.logger.Info("all tokens deleted", "target", target, "by", admin)
	return store.StatusOK, nil
}

func (s *Store) GetRecord(_ context.Context, admin types.Identifier, password string, target types.Identifier) (string, store.Status, error) {
	entries, ok, err := s.loadAuthenticated(admin, password)
	if err != nil || !ok {
		return "", store.StatusAuthFailure, err
	}
	e := find(entries, target)
	if e == nil {
		return "", store.StatusNotFound, nil
	}
	return e.raw, store.StatusOK, nil
}

func (s *Store) ListAllTokens(_ context.Context, admin types.Identifier, password string) ([]types.Token, store.Status, error) {
	entries, ok, err := s.loadAuthenticated(admin, password)
	if err != nil || !ok {
		return nil, store.StatusAuthFailure, err
	}
	var out []types.Token
	for _, e := range entries {
		if !e.valid {
			continue
		}
		for _, t := range e.rec.Tokens {
			out = append(out, types.NewAuthorized(t))
		}
	}
	return out, store.StatusOK, nil
}

func (s *Store) EnsureRecord(_ context.Context, rec types.Record) (bool, error) {
	if err := store.CheckRecord(rec); err != nil {
		return false, err
	}
	entries, err := s.load()
	if err != nil {
		return false, err
	}
	if find(entries, rec.Identity) != nil {
		return false, nil
	}
	for _, e := range entries {
		for _, t := range rec.Tokens {
			if e.valid && e.rec.HasToken(t) {
				return false, fmt.Errorf("%w: token %s already assigned to %s", store.ErrInvalidRecord, t, e.rec.Identity)
			}
		}
	}
	entries = append(entries, &entry{rec: rec, valid: true, dirty: true})
	if err := s.save(entries); err != nil {
		return false, err
	}
	s.logger.Info("credential record created", "identity", rec.Identity)
	return true, nil
}

// Records returns every well-formed record in file order. It backs the
// one-time import into the sqlite backend.
func (s *Store) Records(_ context.Context) ([]types.Record, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, e := range entries {
		if e.valid {
			out = append(out, e.rec)
		}
	}
	return out, nil
}
