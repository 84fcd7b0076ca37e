// Package options stores applied setting values.
package options

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/dbx"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, name string) (*models.Option, error) {
	query := `SELECT name, value, updated_at FROM options WHERE name = $1`

	var (
		o     models.Option
		value []byte
	)
	err := r.db.QueryRowContext(ctx, query, name).Scan(&o.Name, &value, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	o.Value = json.RawMessage(value)
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (r *PostgresRepository) Set(ctx context.Context, name string, value json.RawMessage) error {
	query := `
		INSERT INTO options (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, name, string(value)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
