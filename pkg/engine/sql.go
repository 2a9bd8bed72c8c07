// pkg/engine/sql.go
package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tabgate/pkg/apperr"
	"tabgate/pkg/db"
)

// SQL implements Service directly against the request's transaction.
type SQL struct {
	log *zap.SugaredLogger
}

func NewSQL(log *zap.SugaredLogger) *SQL { return &SQL{log: log} }

func (e *SQL) Tables(ctx context.Context, sess *db.Session, filter string) ([]string, error) {
	q := `SELECT table_name FROM information_schema.tables
	  WHERE table_schema='public' AND table_type='BASE TABLE'`
	var args []any
	if filter != "" {
		q += ` AND table_name LIKE '%'||$1||'%'`
		args = append(args, filter)
	}
	q += ` ORDER BY table_name`
	rows, err := sess.Tx.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "list tables")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Wrap(apperr.EngineError, err, "scan table name")
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "list tables")
	}
	return names, nil
}

// resolveHeader parses the explicit header or derives one from the table:
// every column in ordinal order, primary key columns marked unique.
func (e *SQL) resolveHeader(ctx context.Context, sess *db.Session, table, header string) ([]Column, error) {
	if strings.TrimSpace(header) != "" {
		return ParseHeader(header)
	}
	rows, err := sess.Tx.Query(ctx, `SELECT column_name FROM information_schema.columns
	  WHERE table_schema='public' AND table_name=$1 ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "introspect columns")
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name); err != nil {
			return nil, apperr.Wrap(apperr.EngineError, err, "scan column")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "introspect columns")
	}
	if len(cols) == 0 {
		return nil, apperr.New(apperr.EngineError, "unknown table %q", table)
	}
	pk, err := e.primaryKey(ctx, sess, table)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if _, ok := pk[cols[i].Name]; ok {
			cols[i].Unique = true
		}
	}
	return cols, nil
}

func (e *SQL) primaryKey(ctx context.Context, sess *db.Session, table string) (map[string]struct{}, error) {
	rows, err := sess.Tx.Query(ctx, `SELECT a.attname
	  FROM pg_index i
	  JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
	  WHERE i.indrelid = quote_ident($1)::regclass AND i.indisprimary`, table)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "introspect primary key")
	}
	defer rows.Close()
	pk := map[string]struct{}{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, apperr.Wrap(apperr.EngineError, err, "scan primary key")
		}
		pk[n] = struct{}{}
	}
	return pk, rows.Err()
}

func (e *SQL) columnTypes(ctx context.Context, sess *db.Session, table string) (map[string]string, error) {
	rows, err := sess.Tx.Query(ctx, `SELECT column_name, data_type FROM information_schema.columns
	  WHERE table_schema='public' AND table_name=$1`, table)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "introspect column types")
	}
	defer rows.Close()
	types := map[string]string{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, apperr.Wrap(apperr.EngineError, err, "scan column type")
		}
		types[name] = typ
	}
	return types, rows.Err()
}

func (e *SQL) HeaderJSON(ctx context.Context, sess *db.Session, table, header string) ([]ColumnInfo, error) {
	cols, err := e.resolveHeader(ctx, sess, table, header)
	if err != nil {
		return nil, err
	}
	types, err := e.columnTypes(ctx, sess, table)
	if err != nil {
		return nil, err
	}
	infos := make([]ColumnInfo, 0, len(cols))
	for _, c := range cols {
		if c.Skip {
			continue
		}
		infos = append(infos, ColumnInfo{Name: c.Name, Type: types[c.Name], Unique: c.Unique})
	}
	return infos, nil
}

func (e *SQL) HeaderCSV(ctx context.Context, sess *db.Session, table, header string) (string, error) {
	cols, err := e.resolveHeader(ctx, sess, table, header)
	if err != nil {
		return "", err
	}
	return FormatHeader(cols) + "\n", nil
}

func (e *SQL) Count(ctx context.Context, sess *db.Session, table, header, where string) (int64, error) {
	if _, err := e.resolveHeader(ctx, sess, table, header); err != nil {
		return 0, err
	}
	q := `SELECT count(*) FROM ` + pgx.Identifier{table}.Sanitize()
	if where != "" {
		q += ` WHERE ` + where
	}
	var count int64
	if err := sess.Tx.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, apperr.Wrap(apperr.EngineError, err, "count rows")
	}
	return count, nil
}

func (e *SQL) TableCSV(ctx context.Context, sess *db.Session, table, header, where string) (string, error) {
	cols, err := e.resolveHeader(ctx, sess, table, header)
	if err != nil {
		return "", err
	}
	records, err := e.selectRows(ctx, sess, table, cols, where)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(headerCells(cols))
	for _, rec := range records {
		_ = w.Write(rec)
	}
	w.Flush()
	return buf.String(), nil
}

// selectRows fetches the non-skip header columns as text, ordered by the key
// columns for stable output.
func (e *SQL) selectRows(ctx context.Context, sess *db.Session, table string, cols []Column, where string) ([][]string, error) {
	names := columnNames(cols)
	selects := make([]string, len(names))
	for i, n := range names {
		selects[i] = `COALESCE(` + pgx.Identifier{n}.Sanitize() + `::text, '')`
	}
	q := `SELECT ` + strings.Join(selects, ", ") + ` FROM ` + pgx.Identifier{table}.Sanitize()
	if where != "" {
		q += ` WHERE ` + where
	}
	var order []string
	for _, i := range keyIndexes(cols) {
		order = append(order, pgx.Identifier{names[i]}.Sanitize())
	}
	if len(order) == 0 {
		order = []string{"1"}
	}
	q += ` ORDER BY ` + strings.Join(order, ", ")
	rows, err := sess.Tx.Query(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "select rows")
	}
	defer rows.Close()
	var records [][]string
	for rows.Next() {
		rec := make([]string, len(names))
		dest := make([]any, len(names))
		for i := range rec {
			dest[i] = &rec[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, apperr.Wrap(apperr.EngineError, err, "scan row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.EngineError, err, "select rows")
	}
	return records, nil
}

// headerCells renders one CSV cell per non-skip column, modifiers included.
func headerCells(cols []Column) []string {
	var cells []string
	for _, c := range cols {
		if c.Skip {
			continue
		}
		cells = append(cells, FormatHeader([]Column{c}))
	}
	return cells
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func renderCSV(cols []Column, records [][]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(columnNames(cols))
	for _, rec := range records {
		_ = w.Write(rec)
	}
	w.Flush()
	return buf.String()
}

func summaryText(table string, s Summary) string {
	text := fmt.Sprintf("%s: %d inserts, %d updates, %d deletes; %d executed", table, s.Inserts, s.Updates, s.Deletes, s.Executed)
	if s.Committed {
		text += "; committed"
	}
	return text + "\n"
}
