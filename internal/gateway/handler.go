// internal/gateway/handler.go
package gateway

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tabgate/pkg/apperr"
	"tabgate/pkg/db"
	"tabgate/pkg/engine"
	"tabgate/pkg/middleware"
	"tabgate/pkg/ratelimit"
	"tabgate/pkg/token"
)

// Handlers is the thin adapter layer between the HTTP surface and the
// mapping engine. Handlers parse parameters and call exactly one engine
// operation; all failures flow to the Errors stage untouched.
type Handlers struct {
	log      *zap.SugaredLogger
	tokens   *token.Service
	sessions db.Opener
	engine   engine.Service
	limiter  ratelimit.Limiter
}

func New(log *zap.SugaredLogger, tokens *token.Service, sessions db.Opener, eng engine.Service, limiter ratelimit.Limiter) *Handlers {
	if limiter == nil {
		limiter = ratelimit.NewNop()
	}
	return &Handlers{log: log, tokens: tokens, sessions: sessions, engine: eng, limiter: limiter}
}

// Register mounts the HTTP surface. Bearer routes run the full pipeline:
// Errors outermost, then Auth, then Session, then the handler.
func (h *Handlers) Register(r chi.Router) {
	bearer := func(fn middleware.Handler) http.HandlerFunc {
		return middleware.Errors(h.log, middleware.Chain(fn,
			middleware.Auth(h.tokens),
			middleware.Session(h.sessions),
		))
	}

	r.Get("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("This is the tabgate REST API."))
	})
	r.Post("/auth", middleware.Errors(h.log, h.Authenticate))
	r.Get("/tables", bearer(h.GetTables))
	r.Post("/tables", bearer(h.PostTables))
	r.Get("/tables/{name}/header", bearer(h.GetHeader))
	r.Get("/tables/{name}/count", bearer(h.GetCount))
	r.Get("/tables/{name}", bearer(h.GetTable))
	r.Post("/tables/{name}", bearer(h.PostTable))
}

func (h *Handlers) Authenticate(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return apperr.Wrap(apperr.ValidationError, err, "parse form")
	}
	tenantID := r.PostFormValue("tenant_id")
	if tenantID == "" {
		return apperr.New(apperr.ValidationError, "no tenant_id provided")
	}
	if err := h.limiter.Allow(r.Context(), "auth:"+tenantID+":"+clientIP(r)); err != nil {
		return err
	}
	tok, err := h.tokens.Authenticate(r.Context(), tenantID, r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"token": tok})
}

func (h *Handlers) GetTables(w http.ResponseWriter, r *http.Request) error {
	sess, _ := middleware.SessionFrom(r.Context())
	tables, err := h.engine.Tables(r.Context(), sess, r.URL.Query().Get("q"))
	if err != nil {
		return err
	}
	if tables == nil {
		tables = []string{}
	}
	return writeJSON(w, tables)
}

func (h *Handlers) GetHeader(w http.ResponseWriter, r *http.Request) error {
	sess, _ := middleware.SessionFrom(r.Context())
	table := chi.URLParam(r, "name")
	q := r.URL.Query()
	switch q.Get("style") {
	case "", "json":
		header, err := h.engine.HeaderJSON(r.Context(), sess, table, q.Get("h"))
		if err != nil {
			return err
		}
		return writeJSON(w, header)
	case "csv":
		header, err := h.engine.HeaderCSV(r.Context(), sess, table, q.Get("h"))
		if err != nil {
			return err
		}
		writeCSV(w, header)
		return nil
	default:
		return apperr.New(apperr.ValidationError, "invalid style parameter: %s", q.Get("style"))
	}
}

func (h *Handlers) GetCount(w http.ResponseWriter, r *http.Request) error {
	sess, _ := middleware.SessionFrom(r.Context())
	q := r.URL.Query()
	count, err := h.engine.Count(r.Context(), sess, chi.URLParam(r, "name"), q.Get("h"), q.Get("q"))
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]int64{"count": count})
}

func (h *Handlers) GetTable(w http.ResponseWriter, r *http.Request) error {
	sess, _ := middleware.SessionFrom(r.Context())
	q := r.URL.Query()
	out, err := h.engine.TableCSV(r.Context(), sess, chi.URLParam(r, "name"), q.Get("h"), q.Get("q"))
	if err != nil {
		return err
	}
	writeCSV(w, out)
	return nil
}

func (h *Handlers) PostTable(w http.ResponseWriter, r *http.Request) error {
	sess, _ := middleware.SessionFrom(r.Context())
	q := r.URL.Query()
	style := q.Get("style")
	switch style {
	case "diff", "sql", "summary", "full":
	default:
		return apperr.New(apperr.ValidationError, "style must be one of diff, sql, summary or full")
	}
	skipRows, err := parseIntParam(q, "skiprows", 0)
	if err != nil {
		return err
	}
	flags, err := parsePostFlags(q)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.Wrap(apperr.ValidationError, err, "read body")
	}
	if len(body) == 0 {
		return apperr.New(apperr.ValidationError, "missing body content")
	}
	header := q.Get("h")
	if header == "" {
		// No explicit header: the first payload line is the header.
		header, _, _ = strings.Cut(string(body), "\n")
	}
	req := engine.PostRequest{
		Table:    chi.URLParam(r, "name"),
		Header:   header,
		Where:    q.Get("q"),
		Body:     string(body),
		SkipRows: skipRows,
		Flags:    flags,
		Context:  q.Get("context"),
	}
	switch style {
	case "diff":
		diff, err := h.engine.PostTableDiff(r.Context(), sess, req)
		if err != nil {
			return err
		}
		writeCSV(w, strings.Join([]string{diff.Inserts, diff.Updates, diff.Deletes}, "\n"))
		return nil
	case "sql":
		out, err := h.engine.PostTableSQL(r.Context(), sess, req)
		if err != nil {
			return err
		}
		writeCSV(w, out)
		return nil
	case "summary":
		out, err := h.engine.PostTableSummary(r.Context(), sess, req)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(out))
		return nil
	default: // full
		report, err := h.engine.PostTableFull(r.Context(), sess, req)
		if err != nil {
			return err
		}
		return writeJSON(w, report)
	}
}

func (h *Handlers) PostTables(w http.ResponseWriter, r *http.Request) error {
	sess, _ := middleware.SessionFrom(r.Context())
	q := r.URL.Query()
	tablesParam := q.Get("t")
	if tablesParam == "" {
		return apperr.New(apperr.ValidationError, "provide table names using the 't' parameter")
	}
	flags, err := parsePostFlags(q)
	if err != nil {
		return err
	}
	files, substitutions, err := readMultipart(r)
	if err != nil {
		return err
	}
	tables := strings.Split(tablesParam, ",")
	if len(tables) != len(files) {
		return apperr.New(apperr.ValidationError, "provide exactly one file per table, got %d files for %d tables", len(files), len(tables))
	}
	reqs := make([]engine.PostRequest, len(files))
	for i, f := range files {
		reqs[i] = engine.PostRequest{
			Table:    strings.TrimSpace(tables[i]),
			Header:   q.Get("h"),
			Body:     f.content,
			SkipRows: 1,
			Flags:    flags,
			Context:  f.name,
		}
	}
	reports, err := h.engine.PostTablesFull(r.Context(), sess, reqs, substitutions)
	if err != nil {
		return err
	}
	return writeJSON(w, reports)
}

type uploadedFile struct {
	name    string
	content string
}

// readMultipart streams the parts in submission order, pairing files to
// tables positionally. The substitutions part is recognized by field name or
// filename and returned separately.
func readMultipart(r *http.Request) ([]uploadedFile, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ValidationError, err, "read multipart body")
	}
	var files []uploadedFile
	var substitutions string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", apperr.Wrap(apperr.ValidationError, err, "read multipart part")
		}
		content, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, "", apperr.Wrap(apperr.ValidationError, err, "read multipart part")
		}
		if part.FileName() == "" {
			continue
		}
		if part.FormName() == "substitutions" || part.FileName() == "substitutions.csv" {
			substitutions = string(content)
			continue
		}
		files = append(files, uploadedFile{name: part.FileName(), content: string(content)})
	}
	return files, substitutions, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func writeCSV(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=mydata.csv")
	_, _ = w.Write([]byte(body))
}
