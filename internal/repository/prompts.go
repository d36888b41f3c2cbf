package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

const promptTable = "prompt_configurations"

var promptColumns = []string{
	"id", "name", "document_date", "correspondent", "document_type", "storage_path",
	"content_keywords", "suggested_title", "suggested_tag", "free_instructions",
	"json_mode", "is_active", "created_at", "updated_at",
}

// PromptRepository manages named prompt configurations. At most one is active.
type PromptRepository interface {
	List(ctx context.Context) ([]*entity.PromptTemplate, error)
	GetByName(ctx context.Context, name string) (*entity.PromptTemplate, error)
	// Active returns the active configuration, or nil when none is marked.
	Active(ctx context.Context) (*entity.PromptTemplate, error)
	// Save inserts or replaces the configuration with the same name.
	Save(ctx context.Context, p *entity.PromptTemplate) (*entity.PromptTemplate, error)
	Activate(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}

type promptRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewPromptRepository(db *DB, logger *slog.Logger) PromptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &promptRepo{db: db, logger: logger}
}

func (r *promptRepo) List(ctx context.Context) ([]*entity.PromptTemplate, error) {
	q := r.db.builder().Select(promptColumns...).From(entsql.Table(promptTable)).OrderBy("name")
	rows, err := query(ctx, r.db.sql(), q)
	if err != nil {
		r.logger.Error("failed to list prompt configurations", "error", err)
		return nil, common.WrapError(err, "list prompt configurations")
	}
	defer rows.Close()

	var out []*entity.PromptTemplate
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *promptRepo) GetByName(ctx context.Context, name string) (*entity.PromptTemplate, error) {
	q := r.db.builder().Select(promptColumns...).From(entsql.Table(promptTable)).Where(entsql.EQ("name", name))
	p, err := scanPrompt(queryRow(ctx, r.db.sql(), q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("prompt configuration %q not found", name), common.ErrNotFound)
	}
	return p, err
}

func (r *promptRepo) Active(ctx context.Context) (*entity.PromptTemplate, error) {
	q := r.db.builder().Select(promptColumns...).From(entsql.Table(promptTable)).
		Where(entsql.EQ("is_active", true)).
		OrderBy(entsql.Desc("updated_at")).
		Limit(1)
	p, err := scanPrompt(queryRow(ctx, r.db.sql(), q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *promptRepo) Save(ctx context.Context, p *entity.PromptTemplate) (*entity.PromptTemplate, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, common.NewAppError("INVALID_INPUT", "prompt configuration name is required", common.ErrInvalidInput)
	}
	ts := now()
	q := r.db.builder().Insert(promptTable).
		Columns("name", "document_date", "correspondent", "document_type", "storage_path",
			"content_keywords", "suggested_title", "suggested_tag", "free_instructions",
			"json_mode", "is_active", "created_at", "updated_at").
		Values(name, p.DocumentDate, p.Correspondent, p.DocumentType, p.StoragePath,
			p.ContentKeywords, p.SuggestedTitle, p.SuggestedTag, p.FreeInstructions,
			p.JSONMode, false, ts, ts).
		OnConflict(
			entsql.ConflictColumns("name"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range []string{"document_date", "correspondent", "document_type", "storage_path",
					"content_keywords", "suggested_title", "suggested_tag", "free_instructions", "json_mode", "updated_at"} {
					u.SetExcluded(c)
				}
			}),
		)
	if _, err := exec(ctx, r.db.sql(), q); err != nil {
		r.logger.Error("failed to save prompt configuration", "name", name, "error", err)
		return nil, common.WrapError(err, "save prompt configuration")
	}
	r.logger.Info("prompt configuration saved", "name", name)
	return r.GetByName(ctx, name)
}

// Activate marks name active and every other configuration inactive in one transaction.
func (r *promptRepo) Activate(ctx context.Context, name string) error {
	tx, err := r.db.sql().BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := exec(ctx, tx, r.db.builder().Update(promptTable).
		Set("is_active", true).
		Set("updated_at", now()).
		Where(entsql.EQ("name", name)))
	if err != nil {
		r.logger.Error("failed to activate prompt configuration", "name", name, "error", err)
		return common.WrapError(err, "activate prompt configuration")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("prompt configuration %q not found", name), common.ErrNotFound)
	}
	if _, err := exec(ctx, tx, r.db.builder().Update(promptTable).
		Set("is_active", false).
		Where(entsql.NEQ("name", name))); err != nil {
		return common.WrapError(err, "deactivate prompt configurations")
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit transaction")
	}
	r.logger.Info("prompt configuration activated", "name", name)
	return nil
}

func (r *promptRepo) Delete(ctx context.Context, name string) error {
	res, err := exec(ctx, r.db.sql(), r.db.builder().Delete(promptTable).Where(entsql.EQ("name", name)))
	if err != nil {
		r.logger.Error("failed to delete prompt configuration", "name", name, "error", err)
		return common.WrapError(err, "delete prompt configuration")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("prompt configuration %q not found", name), common.ErrNotFound)
	}
	return nil
}

func scanPrompt(s scanner) (*entity.PromptTemplate, error) {
	var (
		p                entity.PromptTemplate
		created, updated nullTime
	)
	if err := s.Scan(&p.ID, &p.Name, &p.DocumentDate, &p.Correspondent, &p.DocumentType, &p.StoragePath,
		&p.ContentKeywords, &p.SuggestedTitle, &p.SuggestedTag, &p.FreeInstructions,
		&p.JSONMode, &p.IsActive, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = created.Time
	p.UpdatedAt = updated.Time
	return &p, nil
}
