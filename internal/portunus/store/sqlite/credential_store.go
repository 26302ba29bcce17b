package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	modsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	dbpkg "github.com/Gostdragon/IoT-Door-Control-System/internal/db"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// CredentialStore keeps credential records in the credentials and
// credential_tokens tables. GetRecord renders rows in the same line format
// as the flat file backend.
type CredentialStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	logger *slog.Logger
}

var _ store.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db *sql.DB, writer *dbpkg.Worker, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{
		db:     db,
		writer: writer,
		logger: logger.With("component", "credential_store", "backend", "sqlite"),
	}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrStoreIO, op, err)
}

func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *CredentialStore) authenticate(ctx context.Context, q querier, id types.Identifier, password string) (bool, error) {
	ok, err := exists(ctx, q,
		`SELECT 1 FROM credentials WHERE identity = ? AND password = ?;`, string(id), password)
	if err != nil {
		return false, ioErr("authenticate", err)
	}
	if !ok {
		s.logger.Error("authentication failed", "identity", id)
	}
	return ok, nil
}

func (s *CredentialStore) Authenticate(ctx context.Context, id types.Identifier, password string) (bool, error) {
	return s.authenticate(ctx, s.db, id, password)
}

// mutate runs fn in a write transaction after authenticating admin inside
// the same transaction. fn's Status is returned; the transaction is rolled
// back unless it is StatusOK.
func (s *CredentialStore) mutate(ctx context.Context, op string, admin types.Identifier, password string,
	fn func(ctx context.Context, tx *sql.Tx) (store.Status, error)) (store.Status, error) {

	errNotOK := errors.New("rollback")
	status := store.StatusOK
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.authenticate(ctx, tx, admin, password)
		if err != nil {
			return err
		}
		if !ok {
			status = store.StatusAuthFailure
			return errNotOK
		}
		st, err := fn(ctx, tx)
		if err != nil {
			return ioErr(op, err)
		}
		status = st
		if st != store.StatusOK {
			return errNotOK
		}
		return nil
	})
	if errors.Is(err, errNotOK) {
		return status, nil
	}
	if err != nil && !errors.Is(err, store.ErrStoreIO) {
		err = ioErr(op, err)
	}
	return status, err
}

func targetExists(ctx context.Context, tx *sql.Tx, target types.Identifier) (bool, error) {
	return exists(ctx, tx, `SELECT 1 FROM credentials WHERE identity = ?;`, string(target))
}

func (s *CredentialStore) AddToken(ctx context.Context, admin types.Identifier, password string, target, token types.Identifier) (store.Status, error) {
	st, err := s.mutate(ctx, "AddToken", admin, password, func(ctx context.Context, tx *sql.Tx) (store.Status, error) {
		if !store.ValidToken(token) {
			return store.StatusInvalidArgument, nil
		}
		dup, err := exists(ctx, tx, `SELECT 1 FROM credential_tokens WHERE token_id = ?;`, string(token))
		if err != nil {
			return store.StatusOK, err
		}
		if dup {
			return store.StatusDuplicateToken, nil
		}
		found, err := targetExists(ctx, tx, target)
		if err != nil || !found {
			return store.StatusNotFound, err
		}

		now := time.Now().UTC().UnixMilli()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credential_tokens(token_id, identity, position, created_at_ms)
VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM credential_tokens WHERE identity = ?), ?);
`, string(token), string(target), string(target), now); err != nil {
			return store.StatusOK, err
		}
		_, err = tx.ExecContext(ctx, `UPDATE credentials SET updated_at_ms = ? WHERE identity = ?;`, now, string(target))
		return store.StatusOK, err
	})
	if err == nil && st == store.StatusOK {
		s.logger.Info("token added", "target", target, "by", admin)
	}
	return st, err
}

func (s *CredentialStore) DeleteToken(ctx context.Context, admin types.Identifier, password string, target, token types.Identifier) (store.Status, error) {
	st, err := s.mutate(ctx, "DeleteToken", admin, password, func(ctx context.Context, tx *sql.Tx) (store.Status, error) {
		found, err := targetExists(ctx, tx, target)
		if err != nil || !found {
			return store.StatusNotFound, err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM credential_tokens WHERE identity = ? AND token_id = ?;`, string(target), string(token))
		if err != nil {
			return store.StatusOK, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.StatusNoChange, nil
		}
		return store.StatusOK, nil
	})
	if err == nil && st == store.StatusOK {
		s.logger.Info("token deleted", "target", target, "by", admin)
	}
	return st, err
}

func (s *CredentialStore) DeleteAllTokens(ctx context.Context, admin types.Identifier, password string, target types.Identifier) (store.Status, error) {
	st, err := s.mutate(ctx, "DeleteAllTokens", admin, password, func(ctx context.Context, tx *sql.Tx) (store.Status, error) {
		found, err := targetExists(ctx, tx, target)
		if err != nil || !found {
			return store.StatusNotFound, err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM credential_tokens WHERE identity = ?;`, string(target))
		if err != nil {
			return store.StatusOK, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.StatusNoChange, nil
		}
		return store.StatusOK, nil
	})
	if err == nil && st == store.StatusOK {
		s.logger.Info("all tokens deleted", "target", target, "by", admin)
	}
	return st, err
}

func (s *CredentialStore) GetRecord(ctx context.Context, admin types.Identifier, password string, target types.Identifier) (string, store.Status, error) {
	ok, err := s.authenticate(ctx, s.db, admin, password)
	if err != nil || !ok {
		return "", store.StatusAuthFailure, err
	}

	rec := types.Record{Identity: target}
	err = s.db.QueryRowContext(ctx, `
SELECT last_name, first_name, password FROM credentials WHERE identity = ?;
`, string(target)).Scan(&rec.Name.Last, &rec.Name.First, &rec.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.StatusNotFound, nil
	}
	if err != nil {
		return "", store.StatusOK, ioErr("GetRecord", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT token_id FROM credential_tokens WHERE identity = ? ORDER BY position;
`, string(target))
	if err != nil {
		return "", store.StatusOK, ioErr("GetRecord tokens", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", store.StatusOK, ioErr("GetRecord scan", err)
		}
		rec.Tokens = append(rec.Tokens, types.Identifier(id))
	}
	if err := rows.Err(); err != nil {
		return "", store.StatusOK, ioErr("GetRecord rows", err)
	}
	return rec.Line(), store.StatusOK, nil
}

func (s *CredentialStore) ListAllTokens(ctx context.Context, admin types.Identifier, password string) ([]types.Token, store.Status, error) {
	ok, err := s.authenticate(ctx, s.db, admin, password)
	if err != nil || !ok {
		return nil, store.StatusAuthFailure, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT t.token_id
FROM credential_tokens t
JOIN credentials c ON c.identity = t.identity
ORDER BY c.position, t.position;
`)
	if err != nil {
		return nil, store.StatusOK, ioErr("ListAllTokens", err)
	}
	defer rows.Close()

	var out []types.Token
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, store.StatusOK, ioErr("ListAllTokens scan", err)
		}
		out = append(out, types.NewAuthorized(types.Identifier(id)))
	}
	if err := rows.Err(); err != nil {
		return nil, store.StatusOK, ioErr("ListAllTokens rows", err)
	}
	return out, store.StatusOK, nil
}

// insertRecord adds rec unless its identity is taken and reports whether it
// did. Tokens already held by another record fail with ErrInvalidRecord.
func insertRecord(ctx context.Context, tx *sql.Tx, rec types.Record, now int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO credentials(identity, last_name, first_name, password, position, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM credentials), ?, ?);
`, string(rec.Identity), rec.Name.Last, rec.Name.First, rec.Password, now, now)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	for i, t := range rec.Tokens {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT identity FROM credential_tokens WHERE token_id = ?;`, string(t)).Scan(&owner)
		if err == nil {
			return false, fmt.Errorf("%w: token %s already assigned to %s", store.ErrInvalidRecord, t, owner)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO credential_tokens(token_id, identity, position, created_at_ms) VALUES (?, ?, ?, ?);
`, string(t), string(rec.Identity), i, now); err != nil {
			return false, fmt.Errorf("token %s: %w", t, err)
		}
	}
	return true, nil
}

// writeErr classifies an error from a record insert. Constraint violations
// describe the record, not the storage.
func writeErr(op string, err error) error {
	if errors.Is(err, store.ErrInvalidRecord) {
		return err
	}
	var se *modsqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %w", store.ErrInvalidRecord, err)
	}
	return ioErr(op, err)
}

func (s *CredentialStore) EnsureRecord(ctx context.Context, rec types.Record) (bool, error) {
	if err := store.CheckRecord(rec); err != nil {
		return false, err
	}

	var created bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		created, err = insertRecord(ctx, tx, rec, time.Now().UTC().UnixMilli())
		return err
	})
	if err != nil {
		return false, writeErr("EnsureRecord", err)
	}
	if created {
		s.logger.Info("credential record created", "identity", rec.Identity)
	}
	return created, nil
}

// Import inserts recs in order when the credentials table is empty and
// returns how many records it wrote. It writes nothing when the table
// already holds a record or when any of recs is rejected.
func (s *CredentialStore) Import(ctx context.Context, recs []types.Record) (int, error) {
	for _, rec := range recs {
		if err := store.CheckRecord(rec); err != nil {
			return 0, fmt.Errorf("import %s: %w", rec.Identity, err)
		}
	}

	var n int
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		populated, err := exists(ctx, tx, `SELECT 1 FROM credentials LIMIT 1;`)
		if err != nil || populated {
			return err
		}
		now := time.Now().UTC().UnixMilli()
		for _, rec := range recs {
			created, err := insertRecord(ctx, tx, rec, now)
			if err != nil {
				return fmt.Errorf("import %s: %w", rec.Identity, err)
			}
			if created {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, writeErr("Import", err)
	}
	if n > 0 {
		s.logger.Info("credential records imported", "count", n)
	}
	return n, nil
}
