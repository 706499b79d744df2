package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"

	sonic "github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	qb "github.com/riskibarqy/teamsync/internal/platform/querybuilder"
)

// Gateway writes straight into the backend Postgres database, bypassing the
// REST layer. Used for self-hosted deployments and integration tests.
type Gateway struct {
	db     *sqlx.DB
	logger *logging.Logger
}

func NewGateway(db *sqlx.DB, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{db: db, logger: logger.Named("gateway.postgres")}
}

func (g *Gateway) Create(ctx context.Context, entityType record.Type, payload []byte) (remote.Row, error) {
	collection, fields, err := decode(entityType, payload)
	if err != nil {
		return nil, err
	}

	columns := sortedColumns(fields)
	values := make([]any, 0, len(columns))
	for _, col := range columns {
		v, err := columnValue(fields[col])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	query, args, err := qb.InsertInto(collection.Name).
		Dialect(qb.Postgres).
		Columns(columns...).
		Values(values...).
		Suffix("RETURNING *").
		ToSQL()
	if err != nil {
		return nil, remote.Mark(fmt.Errorf("build create %s query: %w", collection.Name, err), remote.KindValidation)
	}

	row, err := g.queryRow(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection.Name, err)
	}
	return row, nil
}

func (g *Gateway) Update(ctx context.Context, entityType record.Type, id string, payload []byte) (remote.Row, error) {
	collection, fields, err := decode(entityType, payload)
	if err != nil {
		return nil, err
	}

	builder := qb.Update(collection.Name).Dialect(qb.Postgres)
	sets := 0
	for _, col := range sortedColumns(fields) {
		if col == collection.PrimaryKey || col == "created_at" {
			continue
		}
		v, err := columnValue(fields[col])
		if err != nil {
			return nil, err
		}
		builder.Set(col, v)
		sets++
	}
	if sets == 0 {
		return nil, remote.Errorf(remote.KindValidation, "update %s/%s: nothing to update", collection.Name, id)
	}

	query, args, err := builder.
		Where(qb.Eq(collection.PrimaryKey, id)).
		Suffix("RETURNING *").
		ToSQL()
	if err != nil {
		return nil, remote.Mark(fmt.Errorf("build update %s query: %w", collection.Name, err), remote.KindValidation)
	}

	row, err := g.queryRow(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection.Name, id, err)
	}
	return row, nil
}

func (g *Gateway) Delete(ctx context.Context, entityType record.Type, id string) error {
	collection, err := remote.CollectionFor(entityType)
	if err != nil {
		return remote.Mark(err, remote.KindValidation)
	}

	query, args, err := qb.DeleteFrom(collection.Name).
		Dialect(qb.Postgres).
		Where(qb.Eq(collection.PrimaryKey, id)).
		Suffix("RETURNING " + collection.PrimaryKey).
		ToSQL()
	if err != nil {
		return remote.Mark(fmt.Errorf("build delete %s query: %w", collection.Name, err), remote.KindValidation)
	}

	var deleted string
	if err := g.db.GetContext(ctx, &deleted, query, args...); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection.Name, id, classify(err))
	}
	return nil
}

func (g *Gateway) GenerateTeamCode(ctx context.Context, teamID string) (string, error) {
	var code sql.NullString
	if err := g.db.GetContext(ctx, &code, "SELECT generate_team_code($1)", teamID); err != nil {
		return "", fmt.Errorf("generate team code: %w", classify(err))
	}
	if !code.Valid || strings.TrimSpace(code.String) == "" {
		return "", remote.Errorf(remote.KindUnknown, "generate team code: empty result")
	}
	return strings.TrimSpace(code.String), nil
}

func (g *Gateway) queryRow(ctx context.Context, query string, args []any) (remote.Row, error) {
	raw := make(map[string]any)
	if err := g.db.QueryRowxContext(ctx, query, args...).MapScan(raw); err != nil {
		return nil, classify(err)
	}

	out := make(remote.Row, len(raw))
	for k, v := range raw {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out, nil
}

func decode(entityType record.Type, payload []byte) (remote.Collection, map[string]any, error) {
	collection, err := remote.CollectionFor(entityType)
	if err != nil {
		return remote.Collection{}, nil, remote.Mark(err, remote.KindValidation)
	}
	fields, err := collection.Fields(payload)
	if err != nil {
		return remote.Collection{}, nil, err
	}
	if len(fields) == 0 {
		return remote.Collection{}, nil, remote.Errorf(remote.KindValidation, "%s payload has no known columns", collection.Name)
	}
	return collection, fields, nil
}

func sortedColumns(fields map[string]any) []string {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// columnValue renders nested values as JSON text for jsonb columns.
func columnValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		raw, err := sonic.MarshalString(v)
		if err != nil {
			return nil, remote.Mark(fmt.Errorf("encode nested column: %w", err), remote.KindValidation)
		}
		return raw, nil
	default:
		return v, nil
	}
}

// classify maps driver errors onto remote kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Mark(err, remote.KindNotFound)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return remote.Mark(err, remote.KindNetwork)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	return remote.Mark(err, kindForCode(pqErr.Code))
}

func kindForCode(code pq.ErrorCode) remote.Kind {
	switch code {
	case "23505":
		return remote.KindConflict
	case "23502", "23503", "23514", "22P02", "22001", "42703":
		return remote.KindValidation
	case "42501":
		return remote.KindUnauthorized
	case "40001", "40P01", "57P01", "57P03", "53300":
		return remote.KindNetwork
	}
	switch code.Class() {
	case "08":
		return remote.KindNetwork
	case "28":
		return remote.KindUnauthorized
	case "22", "23":
		return remote.KindValidation
	}
	return remote.KindUnknown
}

var _ remote.Gateway = (*Gateway)(nil)
