// Package changesets provides the changeset store: a PostgreSQL-backed
// repository and an in-memory one with the same contract.
package changesets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/dbx"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

const selectColumns = `id, uuid, status, title, data, date_gmt, author, version, created_at, updated_at`

// PostgresRepository implements changeset storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db     dbx.DBTX
	policy Policy
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX, policy Policy) *PostgresRepository {
	return &PostgresRepository{db: db, policy: policy}
}

func (r *PostgresRepository) FindByUUID(ctx context.Context, uuid string) (int64, error) {
	query := `SELECT id FROM changesets WHERE lower(uuid) = lower($1)`

	var id int64
	err := r.db.QueryRowContext(ctx, query, uuid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*models.Changeset, error) {
	query := `SELECT ` + selectColumns + ` FROM changesets WHERE id = $1`

	c, err := scanChangeset(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) List(ctx context.Context, statuses ...string) ([]*models.Changeset, error) {
	query := `SELECT ` + selectColumns + ` FROM changesets`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, s)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id`

	return r.query(ctx, "failed to select changesets", query, args...)
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Changeset, error) {
	query := `SELECT ` + selectColumns + ` FROM changesets
		WHERE status = $1 AND date_gmt <= $2 ORDER BY date_gmt, id`

	return r.query(ctx, "failed to select due changesets", query, models.StatusFuture, now.UTC())
}

func (r *PostgresRepository) Save(ctx context.Context, c *models.Changeset) (int64, error) {
	data, err := json.Marshal(dataOrEmpty(c.Data))
	if err != nil {
		return 0, fmt.Errorf("encode data: %w", err)
	}

	if c.PostID == 0 {
		return r.insert(ctx, c, data)
	}

	query := `
		UPDATE changesets SET
			status = $1,
			title = $2,
			data = $3,
			date_gmt = $4,
			author = $5,
			version = version + 1,
			updated_at = now()
		WHERE id = $6 AND version = $7
	`
	res, err := r.db.ExecContext(ctx, query,
		c.Status, c.Title, string(data), dbx.NullTime(c.Date), c.Author, c.PostID, c.Version)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		c.Version++
		return c.PostID, nil
	case 0:
		return 0, common.ErrVersionConflict
	default:
		return 0, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) insert(ctx context.Context, c *models.Changeset, data []byte) (int64, error) {
	if !r.policy.checkInsert(c) {
		return 0, common.ErrEmptyContent
	}

	query := `
		INSERT INTO changesets (uuid, status, title, data, date_gmt, author, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING id, created_at, updated_at
	`
	var id int64
	var created, updated time.Time
	err := r.db.QueryRowContext(ctx, query,
		strings.ToLower(c.UUID), c.Status, c.Title, string(data), dbx.NullTime(c.Date), c.Author,
	).Scan(&id, &created, &updated)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	c.PostID = id
	c.Version = 1
	c.CreatedAt = created.UTC()
	c.UpdatedAt = updated.UTC()
	return id, nil
}

func (r *PostgresRepository) Trash(ctx context.Context, id int64) error {
	query := `UPDATE changesets SET status = $1, version = version + 1, updated_at = now() WHERE id = $2`
	return r.execOne(ctx, query, models.StatusTrash, id)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM changesets WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) query(ctx context.Context, what, query string, args ...any) ([]*models.Changeset, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var result []*models.Changeset
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChangeset(row scanner) (*models.Changeset, error) {
	var (
		c    models.Changeset
		data []byte
		date sql.NullTime
	)
	if err := row.Scan(&c.PostID, &c.UUID, &c.Status, &c.Title, &data, &date,
		&c.Author, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	c.Data = models.SettingsData{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.Data); err != nil {
			return nil, fmt.Errorf("decode data of changeset %d: %w", c.PostID, err)
		}
	}
	c.Date = dbx.TimePtr(date)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func dataOrEmpty(d models.SettingsData) models.SettingsData {
	if d == nil {
		return models.SettingsData{}
	}
	return d
}
