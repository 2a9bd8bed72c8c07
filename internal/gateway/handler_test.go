package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"tabgate/pkg/creds"
	"tabgate/pkg/db"
	"tabgate/pkg/engine"
	"tabgate/pkg/logger"
	"tabgate/pkg/params"
	"tabgate/pkg/ratelimit"
	"tabgate/pkg/secrets"
	"tabgate/pkg/token"
)

// fakeEngine records the last call so tests can assert on what the handler
// layer passed through.
type fakeEngine struct {
	lastReq  engine.PostRequest
	lastReqs []engine.PostRequest
	lastSubs string
	err      error
}

func (f *fakeEngine) Tables(ctx context.Context, sess *db.Session, filter string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if filter != "" {
		return []string{"users_" + filter}, nil
	}
	return []string{"orders", "users"}, nil
}

func (f *fakeEngine) HeaderJSON(ctx context.Context, sess *db.Session, table, header string) ([]engine.ColumnInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []engine.ColumnInfo{{Name: "id", Type: "integer", Unique: true}, {Name: "name", Type: "text"}}, nil
}

func (f *fakeEngine) HeaderCSV(ctx context.Context, sess *db.Session, table, header string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "id[unique=true],name\n", nil
}

func (f *fakeEngine) Count(ctx context.Context, sess *db.Session, table, header, where string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

func (f *fakeEngine) TableCSV(ctx context.Context, sess *db.Session, table, header, where string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "id,name\n1,Alice\n", nil
}

func (f *fakeEngine) PostTableDiff(ctx context.Context, sess *db.Session, req engine.PostRequest) (engine.Diff, error) {
	f.lastReq = req
	return engine.Diff{Inserts: "id,name\n2,Bob\n", Updates: "id,name\n", Deletes: "id,name\n"}, f.err
}

func (f *fakeEngine) PostTableSQL(ctx context.Context, sess *db.Session, req engine.PostRequest) (string, error) {
	f.lastReq = req
	return "kind,sql\ninsert,INSERT INTO x\n", f.err
}

func (f *fakeEngine) PostTableSummary(ctx context.Context, sess *db.Session, req engine.PostRequest) (string, error) {
	f.lastReq = req
	return "users: 1 inserts, 0 updates, 0 deletes; 0 executed\n", f.err
}

func (f *fakeEngine) PostTableFull(ctx context.Context, sess *db.Session, req engine.PostRequest) (*engine.FullReport, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &engine.FullReport{Table: req.Table, Context: req.Context, Summary: engine.Summary{Inserts: 1}}, nil
}

func (f *fakeEngine) PostTablesFull(ctx context.Context, sess *db.Session, reqs []engine.PostRequest, substitutions string) ([]*engine.FullReport, error) {
	f.lastReqs = reqs
	f.lastSubs = substitutions
	if f.err != nil {
		return nil, f.err
	}
	reports := make([]*engine.FullReport, len(reqs))
	for i, req := range reqs {
		reports[i] = &engine.FullReport{Table: req.Table, Context: req.Context}
	}
	return reports, nil
}

type recordingOpener struct {
	opened []*db.Session
}

func (o *recordingOpener) Open(ctx context.Context, tenantID string) (*db.Session, error) {
	sess := &db.Session{TenantID: tenantID}
	o.opened = append(o.opened, sess)
	return sess, nil
}

type testEnv struct {
	router  chi.Router
	tokens  *token.Service
	engine  *fakeEngine
	opener  *recordingOpener
	limiter ratelimit.Limiter
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	resolver := secrets.NewResolver(params.NewMemoryStore(), time.Hour)
	verifier := creds.NewStaticVerifier([]creds.StaticUser{
		{TenantID: "t1", Username: "alice", Password: "wonderland", ID: "7", Name: "Alice"},
	})
	env := &testEnv{
		tokens: token.NewService(resolver, verifier),
		engine: &fakeEngine{},
		opener: &recordingOpener{},
	}
	env.router = chi.NewRouter()
	New(logger.Nop(), env.tokens, env.opener, env.engine, env.limiter).Register(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	form := url.Values{"tenant_id": {"t1"}, "username": {"alice"}, "password": {"wonderland"}}
	req := httptest.NewRequest("POST", "/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	require.Equal(t, 200, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["token"])
	return out["token"]
}

func (e *testEnv) bearer(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+e.login(t))
	return req
}

func envelopeOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var env map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHello(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, httptest.NewRequest("GET", "/hello", nil))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "This is the tabgate REST API.", rec.Body.String())
}

func TestAuthMissingTenant(t *testing.T) {
	env := newEnv(t)
	form := url.Values{"username": {"alice"}, "password": {"wonderland"}}
	req := httptest.NewRequest("POST", "/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(t, req)
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
}

func TestAuthBadCredentials(t *testing.T) {
	env := newEnv(t)
	form := url.Values{"tenant_id": {"t1"}, "username": {"alice"}, "password": {"wrong"}}
	req := httptest.NewRequest("POST", "/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(t, req)
	require.Equal(t, 401, rec.Code)
	require.Equal(t, "AccessDenied", envelopeOf(t, rec)["type"])
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(ctx context.Context, key string) error { return ratelimit.ErrExceeded }

func TestAuthRateLimited(t *testing.T) {
	env := newEnv(t)
	env.limiter = denyAllLimiter{}
	env.router = chi.NewRouter()
	New(logger.Nop(), env.tokens, env.opener, env.engine, env.limiter).Register(env.router)

	form := url.Values{"tenant_id": {"t1"}, "username": {"alice"}, "password": {"wonderland"}}
	req := httptest.NewRequest("POST", "/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(t, req)
	require.Equal(t, 429, rec.Code)
	require.Equal(t, "RateLimited", envelopeOf(t, rec)["type"])
}

func TestBearerRequired(t *testing.T) {
	env := newEnv(t)
	cases := []struct {
		name   string
		header string
		typ    string
	}{
		{"no header", "", "AccessDenied"},
		{"basic auth", "Basic dXNlcjpwYXNz", "AccessDenied"},
		{"garbage token", "Bearer garbage", "MalformedToken"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/tables", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := env.do(t, req)
			require.Equal(t, 401, rec.Code)
			require.Equal(t, tc.typ, envelopeOf(t, rec)["type"])
		})
	}
}

func TestBearerExpiredToken(t *testing.T) {
	env := newEnv(t)
	tok := env.login(t)

	env.tokens.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	req := httptest.NewRequest("GET", "/tables", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := env.do(t, req)
	require.Equal(t, 401, rec.Code)
	require.Equal(t, "TokenExpired", envelopeOf(t, rec)["type"])
}

func TestGetTables(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, env.bearer(t, "GET", "/tables?q=acc", nil))
	require.Equal(t, 200, rec.Code)
	var tables []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tables))
	require.Equal(t, []string{"users_acc"}, tables)

	// Every bearer request gets its own session, released after the handler.
	require.Len(t, env.opener.opened, 1)
	require.Equal(t, "t1", env.opener.opened[0].TenantID)
	require.True(t, env.opener.opened[0].Closed())
}

func TestGetHeader(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, env.bearer(t, "GET", "/tables/users/header", nil))
	require.Equal(t, 200, rec.Code)
	var infos []engine.ColumnInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	require.Equal(t, "id", infos[0].Name)
	require.True(t, infos[0].Unique)

	rec = env.do(t, env.bearer(t, "GET", "/tables/users/header?style=csv", nil))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Equal(t, "attachment; filename=mydata.csv", rec.Header().Get("Content-Disposition"))
	require.Equal(t, "id[unique=true],name\n", rec.Body.String())

	rec = env.do(t, env.bearer(t, "GET", "/tables/users/header?style=xml", nil))
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
}

func TestGetCount(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, env.bearer(t, "GET", "/tables/users/count", nil))
	require.Equal(t, 200, rec.Code)
	var out map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, int64(42), out["count"])
}

func TestGetTableCSV(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, env.bearer(t, "GET", "/tables/users", nil))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Equal(t, "id,name\n1,Alice\n", rec.Body.String())
}

func TestPostTableStyleValidation(t *testing.T) {
	env := newEnv(t)
	for _, style := range []string{"", "yaml"} {
		rec := env.do(t, env.bearer(t, "POST", "/tables/users?style="+style, strings.NewReader("id,name\n1,Alice\n")))
		require.Equal(t, 400, rec.Code, "style=%q", style)
		require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
	}
}

func TestPostTableStrictBoolParams(t *testing.T) {
	env := newEnv(t)
	for _, query := range []string{"insert=1", "update=yes", "execute=True%20or%20x", "commit=__import__"} {
		rec := env.do(t, env.bearer(t, "POST", "/tables/users?style=full&"+query, strings.NewReader("id,name\n1,Alice\n")))
		require.Equal(t, 400, rec.Code, "query=%q", query)
		require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
	}
}

func TestPostTableEmptyBody(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, env.bearer(t, "POST", "/tables/users?style=full", nil))
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
}

func TestPostTableHeaderFromFirstLine(t *testing.T) {
	env := newEnv(t)
	body := "id[unique=true],name\n1,Alice\n"
	rec := env.do(t, env.bearer(t, "POST", "/tables/users?style=full&insert=true&skiprows=1", strings.NewReader(body)))
	require.Equal(t, 200, rec.Code)

	require.Equal(t, "id[unique=true],name", env.engine.lastReq.Header)
	require.Equal(t, body, env.engine.lastReq.Body)
	require.Equal(t, 1, env.engine.lastReq.SkipRows)
	require.True(t, env.engine.lastReq.Flags.Insert)
	require.False(t, env.engine.lastReq.Flags.Execute)
}

func TestPostTableExplicitHeaderWins(t *testing.T) {
	env := newEnv(t)
	target := "/tables/users?style=full&h=" + url.QueryEscape("id[unique=true],name")
	rec := env.do(t, env.bearer(t, "POST", target, strings.NewReader("1,Alice\n")))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "id[unique=true],name", env.engine.lastReq.Header)
	require.Equal(t, 0, env.engine.lastReq.SkipRows)
}

func TestPostTableDiffResponse(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, env.bearer(t, "POST", "/tables/users?style=diff&insert=true", strings.NewReader("id,name\n2,Bob\n")))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Equal(t, "id,name\n2,Bob\n\nid,name\n\nid,name\n", rec.Body.String())
}

func TestPostTableSummaryResponse(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, env.bearer(t, "POST", "/tables/users?style=summary", strings.NewReader("id,name\n1,Alice\n")))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "inserts")
}

func multipartBody(t *testing.T, parts [][3]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p[0], p[1])
		require.NoError(t, err)
		_, err = fw.Write([]byte(p[2]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestPostTablesBulk(t *testing.T) {
	env := newEnv(t)
	body, contentType := multipartBody(t, [][3]string{
		{"file1", "users.csv", "id[unique=true],name\n1,OLD_NAME\n"},
		{"file2", "orders.csv", "id[unique=true],total\n9,100\n"},
		{"substitutions", "substitutions.csv", "from,to\nOLD_NAME,Alice\n"},
	})
	req := env.bearer(t, "POST", "/tables?t=users,orders&insert=true", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)
	require.Equal(t, 200, rec.Code)

	require.Len(t, env.engine.lastReqs, 2)
	require.Equal(t, "users", env.engine.lastReqs[0].Table)
	require.Equal(t, "users.csv", env.engine.lastReqs[0].Context)
	require.Equal(t, 1, env.engine.lastReqs[0].SkipRows)
	require.Equal(t, "orders", env.engine.lastReqs[1].Table)
	require.Equal(t, "from,to\nOLD_NAME,Alice\n", env.engine.lastSubs)

	var reports []engine.FullReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 2)
}

func TestPostTablesRequiresTableParam(t *testing.T) {
	env := newEnv(t)
	body, contentType := multipartBody(t, [][3]string{{"file1", "users.csv", "id\n1\n"}})
	req := env.bearer(t, "POST", "/tables", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
}

func TestPostTablesFileCountMismatch(t *testing.T) {
	env := newEnv(t)
	body, contentType := multipartBody(t, [][3]string{{"file1", "users.csv", "id\n1\n"}})
	req := env.bearer(t, "POST", "/tables?t=users,orders", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "ValidationError", envelopeOf(t, rec)["type"])
}

func TestParseBoolParam(t *testing.T) {
	q := url.Values{"a": {"true"}, "b": {"False"}, "c": {"1"}}
	v, err := parseBoolParam(q, "a")
	require.NoError(t, err)
	require.True(t, v)
	v, err = parseBoolParam(q, "b")
	require.NoError(t, err)
	require.False(t, v)
	v, err = parseBoolParam(q, "missing")
	require.NoError(t, err)
	require.False(t, v)
	_, err = parseBoolParam(q, "c")
	require.Error(t, err)
}

func TestParseIntParam(t *testing.T) {
	q := url.Values{"n": {"3"}, "neg": {"-1"}, "bad": {"x"}}
	n, err := parseIntParam(q, "n", 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = parseIntParam(q, "missing", 7)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	for _, name := range []string{"neg", "bad"} {
		_, err = parseIntParam(q, name, 0)
		require.Error(t, err, name)
	}
}

var _ engine.Service = (*fakeEngine)(nil)
