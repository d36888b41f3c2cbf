package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

const settingsTable = "settings"

type SettingsRepository interface {
	// Get returns ok=false when the key has never been stored.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	All(ctx context.Context) ([]entity.Setting, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type settingsRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewSettingsRepository(db *DB, logger *slog.Logger) SettingsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &settingsRepo{db: db, logger: logger}
}

func (r *settingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	q := r.db.builder().Select("value").From(entsql.Table(settingsTable)).Where(entsql.EQ("key", key))
	var v string
	err := queryRow(ctx, r.db.sql(), q).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		r.logger.Error("failed to read setting", "key", key, "error", err)
		return "", false, common.WrapError(err, "get setting")
	}
	return v, true, nil
}

func (r *settingsRepo) All(ctx context.Context) ([]entity.Setting, error) {
	q := r.db.builder().Select("key", "value", "updated_at").From(entsql.Table(settingsTable)).OrderBy("key")
	rows, err := query(ctx, r.db.sql(), q)
	if err != nil {
		r.logger.Error("failed to list settings", "error", err)
		return nil, common.WrapError(err, "list settings")
	}
	defer rows.Close()

	var out []entity.Setting
	for rows.Next() {
		var (
			s       entity.Setting
			updated nullTime
		)
		if err := rows.Scan(&s.Key, &s.Value, &updated); err != nil {
			return nil, err
		}
		s.UpdatedAt = updated.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	q := r.db.builder().Insert(settingsTable).
		Columns("key", "value", "updated_at").
		Values(key, value, now()).
		OnConflict(entsql.ConflictColumns("key"), entsql.ResolveWithNewValues())
	if _, err := exec(ctx, r.db.sql(), q); err != nil {
		r.logger.Error("failed to store setting", "key", key, "error", err)
		return common.WrapError(err, "set setting")
	}
	r.logger.Debug("setting stored", "key", key)
	return nil
}

func (r *settingsRepo) Delete(ctx context.Context, key string) error {
	q := r.db.builder().Delete(settingsTable).Where(entsql.EQ("key", key))
	if _, err := exec(ctx, r.db.sql(), q); err != nil {
		r.logger.Error("failed to delete setting", "key", key, "error", err)
		return common.WrapError(err, "delete setting")
	}
	return nil
}
