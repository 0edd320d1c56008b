// Package postgres implements store.Store on PostgreSQL. Organization and
// admin records live in the tenancy schema; each organization namespace is a
// schema of its own.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/multierr"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
)

// PostgreSQL error codes
const (
	codeUniqueViolation = "23505"
	codeDuplicateSchema = "42P06"
	codeInvalidSchema   = "3F000"
)

// maxIdentifierBytes is NAMEDATALEN-1; longer schema names are truncated by the server.
const maxIdentifierBytes = 63

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// validID reports whether id can be compared with a UUID column at all.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const orgColumns = `id, name, namespace, admin_id, created_at, updated_at`

func scanOrganization(row *sql.Row) (*store.Organization, error) {
	var org store.Organization
	err := row.Scan(&org.ID, &org.Name, &org.Namespace, &org.AdminID, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}
	return &org, nil
}

func (s *Store) InsertOrganization(ctx context.Context, org *store.Organization) error {
	if !validID(org.AdminID) {
		return fmt.Errorf("invalid admin id %q", org.AdminID)
	}
	id := uuid.New()
	now := time.Now().UTC()

	query := `
		INSERT INTO tenancy.organizations (id, name, namespace, admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, id, org.Name, org.Namespace, org.AdminID, now); err != nil {
		if pqCode(err) == codeUniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to insert organization: %w", err)
	}

	org.ID = id.String()
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

func (s *Store) findOrganization(ctx context.Context, column, value string) (*store.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM tenancy.organizations WHERE ` + column + ` = $1`
	return scanOrganization(s.db.QueryRowContext(ctx, query, value))
}

func (s *Store) FindOrganizationByID(ctx context.Context, id string) (*store.Organization, error) {
	if !validID(id) {
		return nil, nil
	}
	return s.findOrganization(ctx, "id", id)
}

func (s *Store) FindOrganizationByName(ctx context.Context, name string) (*store.Organization, error) {
	return s.findOrganization(ctx, "name", name)
}

func (s *Store) FindOrganizationByNamespace(ctx context.Context, namespace string) (*store.Organization, error) {
	return s.findOrganization(ctx, "namespace", namespace)
}

func (s *Store) FindOrganizationByAdminID(ctx context.Context, adminID string) (*store.Organization, error) {
	if !validID(adminID) {
		return nil, nil
	}
	return s.findOrganization(ctx, "admin_id", adminID)
}

func (s *Store) UpdateOrganization(ctx context.Context, id, name, namespace string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	query := `
		UPDATE tenancy.organizations
		SET name = $2, namespace = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, name, namespace, time.Now().UTC())
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return expectOneRow(res, "organization")
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenancy.organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return expectOneRow(res, "organization")
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", what, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertAdmin(ctx context.Context, admin *store.Admin) error {
	id := uuid.New()
	now := time.Now().UTC()

	query := `
		INSERT INTO tenancy.admins (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, id, admin.Email, admin.PasswordHash, now); err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}

	admin.ID = id.String()
	admin.CreatedAt = now
	return nil
}

func (s *Store) FindAdminByID(ctx context.Context, id string) (*store.Admin, error) {
	if !validID(id) {
		return nil, nil
	}
	query := `SELECT id, email, password_hash, created_at FROM tenancy.admins WHERE id = $1`

	var a store.Admin
	err := s.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query admin: %w", err)
	}
	return &a, nil
}

func (s *Store) FindAdminsByEmail(ctx context.Context, email string) ([]store.Admin, error) {
	query := `
		SELECT id, email, password_hash, created_at
		FROM tenancy.admins
		WHERE email = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	var admins []store.Admin
	for rows.Next() {
		var a store.Admin
		if err := rows.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admins: %w", err)
	}
	return admins, nil
}

func (s *Store) UpdateAdminEmail(ctx context.Context, id, email string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tenancy.admins SET email = $2 WHERE id = $1`, id, email)
	if err != nil {
		return fmt.Errorf("failed to update admin email: %w", err)
	}
	return expectOneRow(res, "admin")
}

func (s *Store) DeleteAdmin(ctx context.Context, id string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenancy.admins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	return expectOneRow(res, "admin")
}

// checkSchemaName rejects names the server would truncate, since two
// truncated names could land on the same schema.
func checkSchemaName(name string) error {
	if len(name) > maxIdentifierBytes {
		return fmt.Errorf("schema name %q exceeds %d bytes", name, maxIdentifierBytes)
	}
	return nil
}

func (s *Store) CreateNamespace(ctx context.Context, name string) error {
	if err := checkSchemaName(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA "+pq.QuoteIdentifier(name)); err != nil {
		if pqCode(err) == codeDuplicateSchema {
			return store.ErrNamespaceExists
		}
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}
	return nil
}

func (s *Store) DropNamespace(ctx context.Context, name string) error {
	if err := checkSchemaName(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DROP SCHEMA "+pq.QuoteIdentifier(name)+" CASCADE"); err != nil {
		if pqCode(err) == codeInvalidSchema {
			return store.ErrNamespaceNotFound
		}
		return fmt.Errorf("failed to drop schema %s: %w", name, err)
	}
	return nil
}

func (s *Store) RenameNamespace(ctx context.Context, from, to string, dropTarget bool) error {
	if err := multierr.Combine(checkSchemaName(from), checkSchemaName(to)); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, from,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up schema %s: %w", from, err)
	}
	if !exists {
		return store.ErrNamespaceNotFound
	}
	if from == to {
		return nil
	}

	if dropTarget {
		if _, err := tx.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(to)+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop schema %s: %w", to, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"ALTER SCHEMA "+pq.QuoteIdentifier(from)+" RENAME TO "+pq.QuoteIdentifier(to),
	); err != nil {
		if pqCode(err) == codeDuplicateSchema {
			return store.ErrNamespaceExists
		}
		return fmt.Errorf("failed to rename schema %s to %s: %w", from, to, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) OrphanNamespaces(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT n.nspname
		FROM pg_namespace n
		WHERE n.nspname LIKE $1 ESCAPE '\'
		  AND NOT EXISTS (
			SELECT 1 FROM tenancy.organizations o
			WHERE left(o.namespace, $2) = n.nspname
		  )
		ORDER BY n.nspname
	`
	rows, err := s.db.QueryContext(ctx, query, likePrefix(prefix), maxIdentifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan schemas: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan schema name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schemas: %w", err)
	}
	return names, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
