// Package engine maps tabular payloads onto tenant tables: header
// introspection, row diffing against the current transaction, SQL
// generation and optional execution. The gateway consumes it through the
// Service contract only.
package engine

import (
	"context"

	"tabgate/pkg/db"
)

// ColumnInfo describes one header column for JSON responses.
type ColumnInfo struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Unique bool   `json:"unique,omitempty"`
}

// PostFlags select which change kinds are generated and whether they run.
type PostFlags struct {
	Insert  bool
	Update  bool
	Delete  bool
	Execute bool
	Commit  bool
}

// PostRequest carries one table's payload through the post family.
type PostRequest struct {
	Table    string
	Header   string // raw header text; empty means derive from the table
	Where    string // optional filter, passed through to the query
	Body     string // tabular payload
	SkipRows int
	Flags    PostFlags
	Context  string // free-form context echoed in full reports
}

// Diff holds the three tabular reports of the diff style.
type Diff struct {
	Inserts string
	Updates string
	Deletes string
}

// Statement is one generated SQL change.
type Statement struct {
	Kind     string `json:"kind"`
	SQL      string `json:"sql"`
	Executed bool   `json:"executed"`
}

type Summary struct {
	Inserts   int  `json:"inserts"`
	Updates   int  `json:"updates"`
	Deletes   int  `json:"deletes"`
	Executed  int  `json:"executed"`
	Committed bool `json:"committed"`
}

// FullReport is the structured report of the full style.
type FullReport struct {
	Table      string      `json:"table"`
	Context    string      `json:"context,omitempty"`
	Summary    Summary     `json:"summary"`
	Statements []Statement `json:"rows"`
}

// Service is the mapping-engine collaborator consumed by the handler layer.
type Service interface {
	Tables(ctx context.Context, sess *db.Session, filter string) ([]string, error)
	HeaderJSON(ctx context.Context, sess *db.Session, table, header string) ([]ColumnInfo, error)
	HeaderCSV(ctx context.Context, sess *db.Session, table, header string) (string, error)
	Count(ctx context.Context, sess *db.Session, table, header, where string) (int64, error)
	TableCSV(ctx context.Context, sess *db.Session, table, header, where string) (string, error)

	PostTableDiff(ctx context.Context, sess *db.Session, req PostRequest) (Diff, error)
	PostTableSQL(ctx context.Context, sess *db.Session, req PostRequest) (string, error)
	PostTableSummary(ctx context.Context, sess *db.Session, req PostRequest) (string, error)
	PostTableFull(ctx context.Context, sess *db.Session, req PostRequest) (*FullReport, error)
	PostTablesFull(ctx context.Context, sess *db.Session, reqs []PostRequest, substitutions string) ([]*FullReport, error)
}
