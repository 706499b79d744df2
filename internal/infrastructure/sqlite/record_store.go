package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/riskibarqy/teamsync/internal/domain/match"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/team"
	"github.com/riskibarqy/teamsync/internal/domain/teamcode"
	"github.com/riskibarqy/teamsync/internal/domain/teammember"
	"github.com/riskibarqy/teamsync/internal/domain/tournament"
	qb "github.com/riskibarqy/teamsync/internal/platform/querybuilder"
)

// Columns never overwritten by an upsert of the entity itself.
var preservedOnUpsert = []string{"created_at", "sync_attempts", "deleted", "last_sync_timestamp"}

type tableHandler interface {
	tableName() string
	primaryKey() string
	hasColumn(column string) bool
	upsertQuery(entity record.Entity, now time.Time) (string, []any, error)
	get(ctx context.Context, q sqlx.QueryerContext, query string, args []any) (record.Row, bool, error)
	list(ctx context.Context, q sqlx.QueryerContext, query string, args []any) ([]record.Row, error)
}

type recordTable[M any, E record.Entity] struct {
	name    string
	pk      string
	columns map[string]struct{}
	upsert  string
	encode  func(E, time.Time) (M, error)
	decode  func(M) (E, error)
	meta    func(M) record.Meta
}

func newRecordTable[M any, E record.Entity](
	name, pk string,
	encode func(E, time.Time) (M, error),
	decode func(M) (E, error),
	meta func(M) record.Meta,
) *recordTable[M, E] {
	var zero M
	cols, err := qb.Columns(zero)
	if err != nil {
		panic(fmt.Sprintf("table %s: %v", name, err))
	}

	set := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		set[col] = struct{}{}
	}

	skip := append([]string{pk}, preservedOnUpsert...)
	return &recordTable[M, E]{
		name:    name,
		pk:      pk,
		columns: set,
		upsert:  "ON CONFLICT(" + pk + ") DO UPDATE SET " + qb.ExcludedAssignments(cols, skip...),
		encode:  encode,
		decode:  decode,
		meta:    meta,
	}
}

func (t *recordTable[M, E]) tableName() string  { return t.name }
func (t *recordTable[M, E]) primaryKey() string { return t.pk }

func (t *recordTable[M, E]) hasColumn(column string) bool {
	_, ok := t.columns[column]
	return ok
}

func (t *recordTable[M, E]) upsertQuery(entity record.Entity, now time.Time) (string, []any, error) {
	var typed E
	if p, ok := any(entity).(*E); ok {
		if p == nil {
			return "", nil, fmt.Errorf("nil %s entity", t.name)
		}
		typed = *p
	} else if v, ok := entity.(E); ok {
		typed = v
	} else {
		return "", nil, fmt.Errorf("entity %T cannot be stored in %s", entity, t.name)
	}

	model, err := t.encode(typed, now)
	if err != nil {
		return "", nil, err
	}
	return qb.InsertModel(qb.SQLite, t.name, model, t.upsert)
}

func (t *recordTable[M, E]) toRow(model M) (record.Row, error) {
	entity, err := t.decode(model)
	if err != nil {
		return record.Row{}, err
	}
	return record.Row{Entity: entity, Meta: t.meta(model)}, nil
}

func (t *recordTable[M, E]) get(ctx context.Context, q sqlx.QueryerContext, query string, args []any) (record.Row, bool, error) {
	var model M
	if err := sqlx.GetContext(ctx, q, &model, query, args...); err != nil {
		if isNotFound(err) {
			return record.Row{}, false, nil
		}
		return record.Row{}, false, fmt.Errorf("select %s: %w", t.name, err)
	}
	row, err := t.toRow(model)
	if err != nil {
		return record.Row{}, false, err
	}
	return row, true, nil
}

func (t *recordTable[M, E]) list(ctx context.Context, q sqlx.QueryerContext, query string, args []any) ([]record.Row, error) {
	var models []M
	if err := sqlx.SelectContext(ctx, q, &models, query, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	out := make([]record.Row, 0, len(models))
	for _, model := range models {
		row, err := t.toRow(model)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

var tables = map[record.Type]tableHandler{
	record.TypeTeam: newRecordTable("teams", "id", teamToModel, teamFromModel,
		func(m teamTableModel) record.Meta { return m.meta() }),
	record.TypeTeamCode: newRecordTable("team_codes", "team_id", teamCodeToModel, teamCodeFromModel,
		func(m teamCodeTableModel) record.Meta { return m.meta() }),
	record.TypeMatch: newRecordTable("matches", "id", matchToModel, matchFromModel,
		func(m matchTableModel) record.Meta { return m.meta() }),
	record.TypeTournament: newRecordTable("tournaments", "id", tournamentToModel, tournamentFromModel,
		func(m tournamentTableModel) record.Meta { return m.meta() }),
	record.TypeTeamMember: newRecordTable("team_members", "id", teamMemberToModel, teamMemberFromModel,
		func(m teamMemberTableModel) record.Meta { return m.meta() }),
}

var (
	_ tableHandler = (*recordTable[teamTableModel, team.Team])(nil)
	_ tableHandler = (*recordTable[teamCodeTableModel, teamcode.TeamCode])(nil)
	_ tableHandler = (*recordTable[matchTableModel, match.Match])(nil)
	_ tableHandler = (*recordTable[tournamentTableModel, tournament.Tournament])(nil)
	_ tableHandler = (*recordTable[teamMemberTableModel, teammember.TeamMember])(nil)
)

func tableFor(t record.Type) (tableHandler, error) {
	h, ok := tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", record.ErrUnknownType, t)
	}
	return h, nil
}

// RecordStore implements record.Store on top of a connection or transaction.
type RecordStore struct {
	q     sqlx.ExtContext
	clock clockwork.Clock
}

func (s *RecordStore) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *RecordStore) Upsert(ctx context.Context, entity record.Entity) (record.Row, error) {
	if entity == nil {
		return record.Row{}, fmt.Errorf("upsert nil entity")
	}
	key := entity.RecordKey()
	if strings.TrimSpace(key.ID) == "" {
		return record.Row{}, fmt.Errorf("upsert %s: id is required", key.Type)
	}
	table, err := tableFor(key.Type)
	if err != nil {
		return record.Row{}, err
	}

	query, args, err := table.upsertQuery(entity, s.now())
	if err != nil {
		return record.Row{}, fmt.Errorf("build upsert %s query: %w", key, err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return record.Row{}, fmt.Errorf("upsert %s: %w", key, record.ErrDuplicate)
		}
		return record.Row{}, fmt.Errorf("upsert %s: %w", key, err)
	}

	row, ok, err := s.GetByID(ctx, key)
	if err != nil {
		return record.Row{}, err
	}
	if !ok {
		return record.Row{}, fmt.Errorf("upsert %s: row vanished", key)
	}
	return row, nil
}

func (s *RecordStore) SoftDelete(ctx context.Context, key record.Key) error {
	table, err := tableFor(key.Type)
	if err != nil {
		return err
	}
	query, args, err := qb.Update(table.tableName()).
		Set("deleted", true).
		Set("updated_at", formatTime(s.now())).
		Where(qb.Eq(table.primaryKey(), key.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build soft delete %s query: %w", key, err)
	}
	return s.execExpectingRow(ctx, key, query, args)
}

// Purge removes the row for good. Missing rows are not an error.
func (s *RecordStore) Purge(ctx context.Context, key record.Key) error {
	table, err := tableFor(key.Type)
	if err != nil {
		return err
	}
	query, args, err := qb.DeleteFrom(table.tableName()).
		Where(qb.Eq(table.primaryKey(), key.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build purge %s query: %w", key, err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("purge %s: %w", key, err)
	}
	return nil
}

func (s *RecordStore) GetAll(ctx context.Context, entityType record.Type, q record.Query) ([]record.Row, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}

	builder := qb.Select("*").From(table.tableName())
	if !q.IncludeDeleted {
		builder.Where(qb.Eq("deleted", false))
	}
	for _, eq := range q.Equals {
		if !table.hasColumn(eq.Field) {
			return nil, fmt.Errorf("%w: %s.%s", record.ErrUnknownField, table.tableName(), eq.Field)
		}
		builder.Where(qb.Eq(eq.Field, eq.Value))
	}

	orderBy, direction := "created_at", "DESC"
	if q.OrderBy != "" {
		if !table.hasColumn(q.OrderBy) {
			return nil, fmt.Errorf("%w: %s.%s", record.ErrUnknownField, table.tableName(), q.OrderBy)
		}
		orderBy, direction = q.OrderBy, "ASC"
		if q.Descending {
			direction = "DESC"
		}
	}
	builder.OrderBy(orderBy+" "+direction, table.primaryKey()+" "+direction)
	if q.Limit > 0 {
		builder.Limit(q.Limit)
	}

	query, args, err := builder.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list %s query: %w", entityType, err)
	}
	return table.list(ctx, s.q, query, args)
}

func (s *RecordStore) GetByID(ctx context.Context, key record.Key) (record.Row, bool, error) {
	table, err := tableFor(key.Type)
	if err != nil {
		return record.Row{}, false, err
	}
	query, args, err := qb.Select("*").From(table.tableName()).
		Where(qb.Eq(table.primaryKey(), key.ID)).
		Limit(1).
		ToSQL()
	if err != nil {
		return record.Row{}, false, fmt.Errorf("build get %s query: %w", key, err)
	}
	return table.get(ctx, s.q, query, args)
}

// MarkSynced stamps the row as confirmed by the backend and clears its attempt counter.
func (s *RecordStore) MarkSynced(ctx context.Context, key record.Key, at time.Time) error {
	table, err := tableFor(key.Type)
	if err != nil {
		return err
	}
	query, args, err := qb.Update(table.tableName()).
		Set("last_sync_timestamp", at.UnixMilli()).
		Set("sync_attempts", 0).
		Where(qb.Eq(table.primaryKey(), key.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build mark synced %s query: %w", key, err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark synced %s: %w", key, err)
	}
	return nil
}

func (s *RecordStore) SetSyncAttempts(ctx context.Context, key record.Key, attempts int) error {
	table, err := tableFor(key.Type)
	if err != nil {
		return err
	}
	query, args, err := qb.Update(table.tableName()).
		Set("sync_attempts", attempts).
		Where(qb.Eq(table.primaryKey(), key.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build set attempts %s query: %w", key, err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set sync attempts %s: %w", key, err)
	}
	return nil
}

func (s *RecordStore) execExpectingRow(ctx context.Context, key record.Key, query string, args []any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows affected: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", key, record.ErrNotFound)
	}
	return nil
}

var _ record.Store = (*RecordStore)(nil)
