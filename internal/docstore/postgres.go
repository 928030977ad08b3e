package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const uniqueViolation = "23505"

// Postgres stores every collection in a single JSONB table keyed by
// (collection, id).
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, data, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Postgres) List(ctx context.Context, collection string, query Query) (ListResult, error) {
	where, args, err := buildWhere(collection, query.Filters)
	if err != nil {
		return ListResult{}, err
	}
	orderBy, err := buildOrderBy(query.Orders)
	if err != nil {
		return ListResult{}, err
	}

	total, err := s.count(ctx, where, args)
	if err != nil {
		return ListResult{}, fmt.Errorf("count %s: %w", collection, err)
	}

	statement := `SELECT id, data, created_at, updated_at FROM documents WHERE ` + where + orderBy
	if query.Limit > 0 {
		args = append(args, query.Limit)
		statement += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		statement += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return ListResult{}, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return ListResult{Documents: docs, Total: total}, nil
}

func (s *Postgres) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	where, args, err := buildWhere(collection, filters)
	if err != nil {
		return 0, err
	}
	total, err := s.count(ctx, where, args)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return total, nil
}

func (s *Postgres) count(ctx context.Context, where string, args []any) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total)
	return total, err
}

func (s *Postgres) Create(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, fmt.Errorf("%w: empty id", ErrInvalidQuery)
	}
	clean := cloneData(data)
	for k, v := range clean {
		if v == nil {
			delete(clean, k)
		}
	}
	encoded, err := json.Marshal(clean)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}

	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		RETURNING id, data, created_at, updated_at
	`, collection, id, string(encoded), now)
	doc, err := scanDocument(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Document{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
		}
		return Document{}, fmt.Errorf("create %s: %w", collection, err)
	}
	return doc, nil
}

func (s *Postgres) Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE
	`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("lock %s/%s: %w", collection, id, err)
	}

	current := map[string]any{}
	if err := json.Unmarshal(raw, &current); err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	encoded, err := json.Marshal(mergePatch(current, patch))
	if err != nil {
		return Document{}, fmt.Errorf("encode patch: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE documents SET data = $3::jsonb, updated_at = $4
		WHERE collection = $1 AND id = $2
		RETURNING id, data, created_at, updated_at
	`, collection, id, string(encoded), s.now().UTC())
	doc, err := scanDocument(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Document{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
		}
		return Document{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit update: %w", err)
	}
	return doc, nil
}

func (s *Postgres) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc Document
		raw []byte
	)
	if err := row.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.Data = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return Document{}, fmt.Errorf("decode data: %w", err)
		}
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var sqlOperators = map[Op]string{
	OpEqual:            "=",
	OpNotEqual:         "<>",
	OpGreaterThan:      ">",
	OpGreaterThanEqual: ">=",
	OpLessThan:         "<",
	OpLessThanEqual:    "<=",
}

// buildWhere renders filters as a parameterized predicate. $1 is always the
// collection name.
func buildWhere(collection string, filters []Filter) (string, []any, error) {
	clauses := []string{"collection = $1"}
	args := []any{collection}
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return "", nil, err
		}
		clause, err := filterClause(f, next)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func filterClause(f Filter, next func(any) string) (string, error) {
	switch f.Field {
	case FieldCreatedAt, FieldUpdatedAt:
		return timestampClause(f, next)
	case FieldID:
		return textClause("id", f, next), nil
	}
	if !fieldNamePattern.MatchString(f.Field) {
		return "", fmt.Errorf("%w: field %q", ErrInvalidQuery, f.Field)
	}

	switch f.Op {
	case OpIn, OpContains:
		return textClause(fmt.Sprintf("data->>'%s'", f.Field), f, next), nil
	}
	operand, _ := normalizeValue(f.Value)
	if number, ok := operand.(float64); ok {
		// jsonb compares numbers numerically, and a missing key yields NULL.
		// Ranges only hold between numbers; jsonb would otherwise order by type.
		clause := fmt.Sprintf("data->'%s' %s to_jsonb(%s::float8)", f.Field, sqlOperators[f.Op], next(number))
		if f.Op != OpEqual && f.Op != OpNotEqual {
			clause = fmt.Sprintf("(jsonb_typeof(data->'%s') = 'number' AND %s)", f.Field, clause)
		}
		return clause, nil
	}
	return textClause(fmt.Sprintf("data->>'%s'", f.Field), f, next), nil
}

func textClause(column string, f Filter, next func(any) string) string {
	switch f.Op {
	case OpIn:
		return fmt.Sprintf("%s = ANY(%s)", column, next(f.Value.([]string)))
	case OpContains:
		return fmt.Sprintf("%s ILIKE %s", column, next("%"+escapeLike(f.Value.(string))+"%"))
	case OpEqual, OpNotEqual:
		operand, _ := normalizeValue(f.Value)
		return fmt.Sprintf("%s %s %s", column, sqlOperators[f.Op], next(textOf(operand)))
	}
	operand, _ := normalizeValue(f.Value)
	return fmt.Sprintf(`%s COLLATE "C" %s %s`, column, sqlOperators[f.Op], next(textOf(operand)))
}

func timestampClause(f Filter, next func(any) string) (string, error) {
	column := "created_at"
	if f.Field == FieldUpdatedAt {
		column = "updated_at"
	}
	if f.Op == OpIn || f.Op == OpContains {
		return "", fmt.Errorf("%w: %s does not support %s", ErrInvalidQuery, f.Field, f.Op)
	}
	var at time.Time
	switch v := f.Value.(type) {
	case time.Time:
		at = v
	case string:
		parsed, err := ParseTime(v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		at = parsed
	default:
		return "", fmt.Errorf("%w: %s requires a time", ErrInvalidQuery, f.Field)
	}
	// Millisecond precision matches the wire format.
	return fmt.Sprintf("date_trunc('milliseconds', %s) %s %s", column, sqlOperators[f.Op], next(at.UTC().Truncate(time.Millisecond))), nil
}

func buildOrderBy(orders []Order) (string, error) {
	if len(orders) == 0 {
		return " ORDER BY created_at ASC, id ASC", nil
	}
	parts := make([]string, 0, len(orders)+1)
	for _, order := range orders {
		direction := "ASC"
		if order.Desc {
			direction = "DESC"
		}
		switch order.Field {
		case FieldCreatedAt:
			parts = append(parts, "created_at "+direction)
		case FieldUpdatedAt:
			parts = append(parts, "updated_at "+direction)
		case FieldID:
			parts = append(parts, "id "+direction)
		default:
			if !fieldNamePattern.MatchString(order.Field) {
				return "", fmt.Errorf("%w: order field %q", ErrInvalidQuery, order.Field)
			}
			parts = append(parts, fmt.Sprintf("data->'%s' %s NULLS LAST", order.Field, direction))
		}
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
