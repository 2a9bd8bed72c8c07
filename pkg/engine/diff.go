// pkg/engine/diff.go
package engine

import (
	"context"
	"encoding/csv"
	"strings"

	"github.com/jackc/pgx/v5"

	"tabgate/pkg/apperr"
	"tabgate/pkg/db"
)

// changeSet is the computed outcome of one post request.
type changeSet struct {
	cols    []Column
	inserts [][]string
	updates [][]string
	deletes [][]string
	stmts   []Statement
	summary Summary
}

// plan parses the payload, diffs it against the table's current rows inside
// the request transaction, generates SQL for the enabled change kinds, and
// executes/commits per the flags.
func (e *SQL) plan(ctx context.Context, sess *db.Session, req PostRequest) (*changeSet, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperr.New(apperr.ValidationError, "missing body content")
	}
	cols, err := e.resolveHeader(ctx, sess, req.Table, req.Header)
	if err != nil {
		return nil, err
	}
	keys := keyIndexes(cols)
	if len(keys) == 0 {
		return nil, apperr.New(apperr.ValidationError, "header for table %q defines no unique columns", req.Table)
	}
	incoming, err := parseBody(cols, req.Body, req.SkipRows)
	if err != nil {
		return nil, err
	}
	existing, err := e.selectRows(ctx, sess, req.Table, cols, req.Where)
	if err != nil {
		return nil, err
	}

	cs := &changeSet{cols: cols}
	names := columnNames(cols)
	rowKey := func(rec []string) string {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = rec[k]
		}
		return strings.Join(parts, "\x1f")
	}
	current := make(map[string][]string, len(existing))
	for _, rec := range existing {
		current[rowKey(rec)] = rec
	}
	seen := map[string]struct{}{}
	for _, rec := range incoming {
		k := rowKey(rec)
		seen[k] = struct{}{}
		old, ok := current[k]
		switch {
		case !ok && req.Flags.Insert:
			cs.inserts = append(cs.inserts, rec)
			cs.stmts = append(cs.stmts, Statement{Kind: "insert", SQL: insertSQL(req.Table, names, rec)})
		case ok && req.Flags.Update && !equalRows(old, rec):
			cs.updates = append(cs.updates, rec)
			cs.stmts = append(cs.stmts, Statement{Kind: "update", SQL: updateSQL(req.Table, names, keys, rec)})
		}
	}
	if req.Flags.Delete {
		for _, rec := range existing {
			if _, ok := seen[rowKey(rec)]; !ok {
				cs.deletes = append(cs.deletes, rec)
				cs.stmts = append(cs.stmts, Statement{Kind: "delete", SQL: deleteSQL(req.Table, names, keys, rec)})
			}
		}
	}
	cs.summary = Summary{Inserts: len(cs.inserts), Updates: len(cs.updates), Deletes: len(cs.deletes)}

	if req.Flags.Execute {
		for i := range cs.stmts {
			if _, err := sess.Tx.Exec(ctx, cs.stmts[i].SQL); err != nil {
				return nil, apperr.Wrap(apperr.EngineError, err, "execute "+cs.stmts[i].Kind)
			}
			cs.stmts[i].Executed = true
			cs.summary.Executed++
		}
		if req.Flags.Commit {
			if err := sess.Commit(ctx); err != nil {
				return nil, err
			}
			cs.summary.Committed = true
		}
	}
	return cs, nil
}

// parseBody reads the CSV payload into records matching the header width.
func parseBody(cols []Column, body string, skipRows int) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(body))
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, err, "parse body")
	}
	if skipRows > len(all) {
		skipRows = len(all)
	}
	all = all[skipRows:]
	var records [][]string
	for _, raw := range all {
		if len(raw) == 1 && strings.TrimSpace(raw[0]) == "" {
			continue
		}
		if len(raw) != len(cols) {
			return nil, apperr.New(apperr.ValidationError, "row has %d fields, header has %d columns", len(raw), len(cols))
		}
		rec := make([]string, 0, len(cols))
		for i, c := range cols {
			if c.Skip {
				continue
			}
			rec = append(rec, raw[i])
		}
		records = append(records, rec)
	}
	return records, nil
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func insertSQL(table string, names, rec []string) string {
	idents := make([]string, len(names))
	values := make([]string, len(names))
	for i, n := range names {
		idents[i] = pgx.Identifier{n}.Sanitize()
		values[i] = quoteLiteral(rec[i])
	}
	return "INSERT INTO " + pgx.Identifier{table}.Sanitize() +
		" (" + strings.Join(idents, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
}

func updateSQL(table string, names []string, keys []int, rec []string) string {
	keySet := map[int]struct{}{}
	for _, k := range keys {
		keySet[k] = struct{}{}
	}
	var sets []string
	for i, n := range names {
		if _, ok := keySet[i]; ok {
			continue
		}
		sets = append(sets, pgx.Identifier{n}.Sanitize()+" = "+quoteLiteral(rec[i]))
	}
	return "UPDATE " + pgx.Identifier{table}.Sanitize() +
		" SET " + strings.Join(sets, ", ") + " WHERE " + keyClause(names, keys, rec)
}

func deleteSQL(table string, names []string, keys []int, rec []string) string {
	return "DELETE FROM " + pgx.Identifier{table}.Sanitize() + " WHERE " + keyClause(names, keys, rec)
}

func keyClause(names []string, keys []int, rec []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = pgx.Identifier{names[k]}.Sanitize() + " = " + quoteLiteral(rec[k])
	}
	return strings.Join(conds, " AND ")
}

func (e *SQL) PostTableDiff(ctx context.Context, sess *db.Session, req PostRequest) (Diff, error) {
	cs, err := e.plan(ctx, sess, req)
	if err != nil {
		return Diff{}, err
	}
	return Diff{
		Inserts: renderCSV(cs.cols, cs.inserts),
		Updates: renderCSV(cs.cols, cs.updates),
		Deletes: renderCSV(cs.cols, cs.deletes),
	}, nil
}

func (e *SQL) PostTableSQL(ctx context.Context, sess *db.Session, req PostRequest) (string, error) {
	cs, err := e.plan(ctx, sess, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"kind", "sql"})
	for _, st := range cs.stmts {
		_ = w.Write([]string{st.Kind, st.SQL})
	}
	w.Flush()
	return b.String(), nil
}

func (e *SQL) PostTableSummary(ctx context.Context, sess *db.Session, req PostRequest) (string, error) {
	cs, err := e.plan(ctx, sess, req)
	if err != nil {
		return "", err
	}
	return summaryText(req.Table, cs.summary), nil
}

func (e *SQL) PostTableFull(ctx context.Context, sess *db.Session, req PostRequest) (*FullReport, error) {
	cs, err := e.plan(ctx, sess, req)
	if err != nil {
		return nil, err
	}
	return &FullReport{
		Table:      req.Table,
		Context:    req.Context,
		Summary:    cs.summary,
		Statements: cs.stmts,
	}, nil
}

func (e *SQL) PostTablesFull(ctx context.Context, sess *db.Session, reqs []PostRequest, substitutions string) ([]*FullReport, error) {
	subs, err := parseSubstitutions(substitutions)
	if err != nil {
		return nil, err
	}
	var reports []*FullReport
	for _, req := range reqs {
		for _, s := range subs {
			req.Body = strings.ReplaceAll(req.Body, s[0], s[1])
		}
		report, err := e.PostTableFull(ctx, sess, req)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// parseSubstitutions reads from/to pairs, tolerating a "from,to" header row.
func parseSubstitutions(text string) ([][2]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, err, "parse substitutions")
	}
	var subs [][2]string
	for i, rec := range all {
		if len(rec) < 2 {
			continue
		}
		if i == 0 && strings.EqualFold(rec[0], "from") && strings.EqualFold(rec[1], "to") {
			continue
		}
		subs = append(subs, [2]string{rec[0], rec[1]})
	}
	return subs, nil
}
