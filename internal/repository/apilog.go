package repository

import (
	"context"
	"database/sql"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

const apiLogTable = "api_logs"

var apiLogColumns = []string{
	"id", "service", "endpoint", "method", "status_code",
	"request_data", "response_data", "error_message", "duration_ms", "created_at",
}

type APILogFilter struct {
	Service constants.APIService
	Limit   int // default 100
}

// APILogRepository stores outbound calls. It satisfies the call recorder
// interfaces of the document store and model clients.
type APILogRepository interface {
	RecordCall(ctx context.Context, call entity.APICallLog) error
	List(ctx context.Context, f APILogFilter) ([]*entity.APICallLog, error)
}

type apiLogRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewAPILogRepository(db *DB, logger *slog.Logger) APILogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &apiLogRepo{db: db, logger: logger}
}

func (r *apiLogRepo) RecordCall(ctx context.Context, call entity.APICallLog) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now()
	}
	q := r.db.builder().Insert(apiLogTable).
		Columns("service", "endpoint", "method", "status_code", "request_data", "response_data", "error_message", "duration_ms", "created_at").
		Values(string(call.Service), call.Endpoint, call.Method, nullInt(call.StatusCode),
			call.RequestData, call.ResponseData, nullString(call.ErrorMessage), call.DurationMS, call.CreatedAt)
	if _, err := exec(ctx, r.db.sql(), q); err != nil {
		r.logger.Error("failed to record api call", "service", call.Service, "endpoint", call.Endpoint, "error", err)
		return common.WrapError(err, "insert api log")
	}
	return nil
}

func (r *apiLogRepo) List(ctx context.Context, f APILogFilter) ([]*entity.APICallLog, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := r.db.builder().Select(apiLogColumns...).From(entsql.Table(apiLogTable))
	if f.Service != "" {
		q.Where(entsql.EQ("service", string(f.Service)))
	}
	q.OrderBy(entsql.Desc("id")).Limit(f.Limit)

	rows, err := query(ctx, r.db.sql(), q)
	if err != nil {
		r.logger.Error("failed to list api logs", "error", err)
		return nil, common.WrapError(err, "list api logs")
	}
	defer rows.Close()

	var out []*entity.APICallLog
	for rows.Next() {
		var (
			c       entity.APICallLog
			service string
			status  sql.NullInt64
			errMsg  sql.NullString
			created nullTime
		)
		if err := rows.Scan(&c.ID, &service, &c.Endpoint, &c.Method, &status,
			&c.RequestData, &c.ResponseData, &errMsg, &c.DurationMS, &created); err != nil {
			return nil, err
		}
		c.Service = constants.APIService(service)
		if status.Valid {
			v := int(status.Int64)
			c.StatusCode = &v
		}
		if errMsg.Valid {
			c.ErrorMessage = &errMsg.String
		}
		c.CreatedAt = created.Time
		out = append(out, &c)
	}
	return out, rows.Err()
}
