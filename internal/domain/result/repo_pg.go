package result

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/warehouse/internal/platform/db"
	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
	"github.com/ehr/warehouse/pkg/tabular"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resultCols = `id, resource_name, project_id, action_id, status, message, data_type,
	data, started_at, completed_at`

func (r *resultRepoPG) scanResult(row pgx.Row) (*resource.Result, error) {
	var (
		res         resource.Result
		data        []byte
		completedAt *time.Time
	)
	err := row.Scan(&res.ID, &res.ResourceName, &res.ProjectID, &res.ActionID, &res.Status, &res.Message,
		&res.DataType, &data, &res.StartedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, failure.NotFoundf("result not found")
	}
	if err != nil {
		return nil, err
	}
	res.CompletedAt = completedAt
	if len(data) > 0 {
		res.Data = tabular.New()
		if err := json.Unmarshal(data, res.Data); err != nil {
			return nil, failure.Wrapf(err, "decode data of result %s", res.ID)
		}
	}
	return &res, nil
}

func encodeData(rs *tabular.ResultSet) ([]byte, error) {
	if rs == nil {
		return nil, nil
	}
	return json.Marshal(rs)
}

func (r *resultRepoPG) Create(ctx context.Context, res *resource.Result) error {
	data, err := encodeData(res.Data)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO query_result (id, resource_name, project_id, action_id, status, message, data_type,
			data, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		res.ID, res.ResourceName, res.ProjectID, res.ActionID, res.Status, res.Message, res.DataType,
		data, res.StartedAt, res.CompletedAt)
	return err
}

func (r *resultRepoPG) GetByID(ctx context.Context, id string) (*resource.Result, error) {
	return r.scanResult(r.conn(ctx).QueryRow(ctx, `SELECT `+resultCols+` FROM query_result WHERE id = $1`, id))
}

func (r *resultRepoPG) Update(ctx context.Context, res *resource.Result) error {
	data, err := encodeData(res.Data)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE query_result SET project_id=$2, action_id=$3, status=$4, message=$5,
			data=$6, completed_at=$7, updated_at=NOW()
		WHERE id = $1`,
		res.ID, res.ProjectID, res.ActionID, res.Status, res.Message, data, res.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return failure.NotFoundf("result %s not found", res.ID)
	}
	return nil
}

func (r *resultRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM query_result WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return failure.NotFoundf("result %s not found", id)
	}
	return nil
}

// List omits the data column; callers fetch it per result.
func (r *resultRepoPG) List(ctx context.Context, limit, offset int) ([]*resource.Result, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM query_result`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, resource_name, project_id, action_id, status, message, data_type,
		NULL::jsonb, started_at, completed_at
		FROM query_result ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*resource.Result
	for rows.Next() {
		res, err := r.scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, rows.Err()
}
