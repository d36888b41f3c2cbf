package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

const historyTable = "processing_history"

var historyColumns = []string{
	"id", "document_id", "document_title", "tag_id", "status", "text_source",
	"model_response", "error_message", "metadata_applied", "token_usage", "processed_at", "created_at",
}

// ErrInvalidTransition means the row was not in the state the update requires.
var ErrInvalidTransition = errors.New("invalid history status transition")

// HistoryFilter narrows List.
type HistoryFilter struct {
	DocumentID *int
	Status     constants.HistoryStatus
	Limit      int // default 50
}

// CompleteParams is the successful outcome of an attempt.
type CompleteParams struct {
	TextSource    string
	ModelResponse json.RawMessage
	TokenUsage    int
}

type HistoryRepository interface {
	// Start inserts a pending row.
	Start(ctx context.Context, documentID int, title string, tagID *int) (int64, error)
	MarkProcessing(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, p CompleteParams) error
	Fail(ctx context.Context, id int64, message string) error
	// MarkCancelled notes a cancellation on a processing row without finalizing it.
	MarkCancelled(ctx context.Context, id int64) error
	MarkApplied(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*entity.ProcessingHistoryEntry, error)
	Latest(ctx context.Context, documentID int) (*entity.ProcessingHistoryEntry, error)
	List(ctx context.Context, f HistoryFilter) ([]*entity.ProcessingHistoryEntry, error)
}

type historyRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewHistoryRepository(db *DB, logger *slog.Logger) HistoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &historyRepo{db: db, logger: logger}
}

func (r *historyRepo) Start(ctx context.Context, documentID int, title string, tagID *int) (int64, error) {
	q := r.db.builder().Insert(historyTable).
		Columns("document_id", "document_title", "tag_id", "status", "created_at").
		Values(documentID, title, nullInt(tagID), string(constants.HistoryStatusPending), now()).
		Returning("id")
	var id int64
	if err := queryRow(ctx, r.db.sql(), q).Scan(&id); err != nil {
		r.logger.Error("history start failed", "document_id", documentID, "error", err)
		return 0, common.WrapError(err, "insert processing history")
	}
	r.logger.Debug("history started", "history_id", id, "document_id", documentID)
	return id, nil
}

func (r *historyRepo) MarkProcessing(ctx context.Context, id int64) error {
	return r.transition(ctx, id, constants.HistoryStatusPending,
		r.db.builder().Update(historyTable).Set("status", string(constants.HistoryStatusProcessing)))
}

func (r *historyRepo) Complete(ctx context.Context, id int64, p CompleteParams) error {
	u := r.db.builder().Update(historyTable).
		Set("status", string(constants.HistoryStatusCompleted)).
		Set("text_source", p.TextSource).
		Set("token_usage", p.TokenUsage).
		Set("processed_at", now())
	if len(p.ModelResponse) > 0 {
		u.Set("model_response", string(p.ModelResponse))
	}
	return r.transition(ctx, id, constants.HistoryStatusProcessing, u)
}

func (r *historyRepo) Fail(ctx context.Context, id int64, message string) error {
	return r.transition(ctx, id, constants.HistoryStatusProcessing,
		r.db.builder().Update(historyTable).
			Set("status", string(constants.HistoryStatusFailed)).
			Set("error_message", message).
			Set("processed_at", now()))
}

func (r *historyRepo) MarkCancelled(ctx context.Context, id int64) error {
	return r.transition(ctx, id, constants.HistoryStatusProcessing,
		r.db.builder().Update(historyTable).Set("error_message", "cancelled"))
}

func (r *historyRepo) MarkApplied(ctx context.Context, id int64) error {
	return r.transition(ctx, id, constants.HistoryStatusCompleted,
		r.db.builder().Update(historyTable).Set("metadata_applied", true))
}

// transition applies u only when the row is in state from, so terminal
// updates happen exactly once.
func (r *historyRepo) transition(ctx context.Context, id int64, from constants.HistoryStatus, u *entsql.UpdateBuilder) error {
	u.Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(from))))
	res, err := exec(ctx, r.db.sql(), u)
	if err != nil {
		r.logger.Error("history update failed", "history_id", id, "error", err)
		return common.WrapError(err, "update processing history")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.WrapError(err, "update processing history")
	}
	if n == 0 {
		return fmt.Errorf("%w: history %d is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}

func (r *historyRepo) Get(ctx context.Context, id int64) (*entity.ProcessingHistoryEntry, error) {
	q := r.db.builder().Select(historyColumns...).From(entsql.Table(historyTable)).Where(entsql.EQ("id", id))
	e, err := scanHistory(queryRow(ctx, r.db.sql(), q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("history %d not found", id), common.ErrNotFound)
	}
	return e, err
}

func (r *historyRepo) Latest(ctx context.Context, documentID int) (*entity.ProcessingHistoryEntry, error) {
	q := r.db.builder().Select(historyColumns...).From(entsql.Table(historyTable)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy(entsql.Desc("id")).
		Limit(1)
	e, err := scanHistory(queryRow(ctx, r.db.sql(), q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *historyRepo) List(ctx context.Context, f HistoryFilter) ([]*entity.ProcessingHistoryEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := r.db.builder().Select(historyColumns...).From(entsql.Table(historyTable))
	if f.DocumentID != nil {
		q.Where(entsql.EQ("document_id", *f.DocumentID))
	}
	if f.Status != "" {
		q.Where(entsql.EQ("status", string(f.Status)))
	}
	q.OrderBy(entsql.Desc("id")).Limit(f.Limit)

	rows, err := query(ctx, r.db.sql(), q)
	if err != nil {
		r.logger.Error("history list failed", "error", err)
		return nil, common.WrapError(err, "list processing history")
	}
	defer rows.Close()

	var out []*entity.ProcessingHistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(s scanner) (*entity.ProcessingHistoryEntry, error) {
	var (
		e                  entity.ProcessingHistoryEntry
		tagID              sql.NullInt64
		status             string
		response, errMsg   sql.NullString
		processed, created nullTime
	)
	if err := s.Scan(&e.ID, &e.DocumentID, &e.DocumentTitle, &tagID, &status, &e.TextSource,
		&response, &errMsg, &e.MetadataApplied, &e.TokenUsage, &processed, &created); err != nil {
		return nil, err
	}
	e.Status = constants.HistoryStatus(status)
	if tagID.Valid {
		v := int(tagID.Int64)
		e.TagID = &v
	}
	if response.Valid && response.String != "" {
		e.ModelResponse = json.RawMessage(response.String)
	}
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	e.ProcessedAt = processed.ptr()
	e.CreatedAt = created.Time
	return &e, nil
}
