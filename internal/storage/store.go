package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/bursadev/bursa/internal/crypto"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same store code
// serves direct calls and facade transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type row interface {
	Scan(dest ...any) error
}

// kind describes one record kind: its table, SQL shapes and how a record
// binds to and scans from them. The generic store supplies the uniform
// insert/get/update/delete/query mechanics on top.
type kind[T any] struct {
	table     string
	insertSQL string
	updateSQL string
	selectSQL string

	id         func(*T) string
	setID      func(*T, string)
	touch      func(*T, time.Time, bool)
	insertArgs func(*crypto.LedgerCipher, *T) ([]any, error)
	updateArgs func(*crypto.LedgerCipher, *T) ([]any, error)
	scan       func(*crypto.LedgerCipher, row) (T, error)
}

type recordStore[T any] struct {
	q  querier
	lc *crypto.LedgerCipher
	k  kind[T]
}

// Insert assigns a fresh id when absent, stamps timestamps and persists
// the record. Uniqueness and foreign-key breaches surface as ErrConstraint.
func (s *recordStore[T]) Insert(ctx context.Context, rec *T) error {
	if rec == nil {
		return fmt.Errorf("insert %s: record is nil", s.k.table)
	}
	if s.k.id(rec) == "" {
		s.k.setID(rec, uuid.NewString())
	}
	s.k.touch(rec, nowUTC(), true)

	args, err := s.k.insertArgs(s.lc, rec)
	if err != nil {
		return fmt.Errorf("insert %s: %w", s.k.table, err)
	}
	if _, err := s.q.ExecContext(ctx, s.k.insertSQL, args...); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("insert %s: %w", s.k.table, ErrConstraint)
		}
		return fmt.Errorf("insert %s: %w", s.k.table, err)
	}
	return nil
}

func (s *recordStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	rec, err := s.k.scan(s.lc, s.q.QueryRowContext(ctx, s.k.selectSQL+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get %s: %w", s.k.table, err)
	}
	return rec, nil
}

func (s *recordStore[T]) Update(ctx context.Context, rec *T) error {
	if rec == nil {
		return fmt.Errorf("update %s: record is nil", s.k.table)
	}
	if s.k.id(rec) == "" {
		return fmt.Errorf("update %s: id is required", s.k.table)
	}
	s.k.touch(rec, nowUTC(), false)

	args, err := s.k.updateArgs(s.lc, rec)
	if err != nil {
		return fmt.Errorf("update %s: %w", s.k.table, err)
	}
	args = append(args, s.k.id(rec))

	result, err := s.q.ExecContext(ctx, s.k.updateSQL, args...)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("update %s: %w", s.k.table, ErrConstraint)
		}
		return fmt.Errorf("update %s: %w", s.k.table, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: rows affected: %w", s.k.table, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *recordStore[T]) Delete(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM `+s.k.table+` WHERE id = ?`, id)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("delete %s: %w", s.k.table, ErrConstraint)
		}
		return fmt.Errorf("delete %s: %w", s.k.table, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: rows affected: %w", s.k.table, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// query yields matching records lazily; each range over the sequence
// re-runs the statement, so it is restartable and never materializes the
// table.
func (s *recordStore[T]) query(ctx context.Context, where string, order string, args ...any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		stmt := s.k.selectSQL
		if where != "" {
			stmt += ` WHERE ` + where
		}
		if order != "" {
			stmt += ` ORDER BY ` + order
		}

		rows, err := s.q.QueryContext(ctx, stmt, args...)
		if err != nil {
			yield(zero, fmt.Errorf("query %s: %w", s.k.table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := s.k.scan(s.lc, rows)
			if err != nil {
				yield(zero, fmt.Errorf("query %s: scan: %w", s.k.table, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("query %s: iterate: %w", s.k.table, err))
		}
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullableString(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	s := raw.String
	return &s
}

// sealOptional encrypts an optional sensitive field, returning nil blobs
// for absent values.
func sealOptional(lc *crypto.LedgerCipher, entity, id, field string, plaintext []byte) ([]byte, []byte, error) {
	if len(plaintext) == 0 {
		return nil, nil, nil
	}
	blob, err := lc.EncryptField(entity, id, field, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt %s.%s: %w", entity, field, err)
	}
	return blob.Ciphertext, blob.Nonce, nil
}

func openOptional(lc *crypto.LedgerCipher, entity, id, field string, ciphertext, nonce []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	plaintext, err := lc.DecryptField(entity, id, field, crypto.EncryptedBlob{Ciphertext: ciphertext, Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("decrypt %s.%s: %w", entity, field, err)
	}
	return plaintext, nil
}
