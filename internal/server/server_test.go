package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/retriever"
	"ragqa/internal/service"
)

type fakeAsker struct {
	answer service.Answer
	err    error
	calls  int
	ctx    context.Context
}

func (f *fakeAsker) Ask(ctx context.Context, _ string) (service.Answer, error) {
	f.calls++
	f.ctx = ctx
	return f.answer, f.err
}

type fakeIndex struct {
	results  []domain.SearchResult
	err      error
	lastK    int
	added    []string
	saveErr  error
	saves    int
	buildErr error
}

func (f *fakeIndex) Retrieve(_ context.Context, query string, k int) ([]domain.SearchResult, error) {
	f.lastK = k
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	return f.results, f.err
}

func (f *fakeIndex) Add(_ context.Context, text, source string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrInvalidArgument
	}
	f.added = append(f.added, source+":"+text)
	return nil
}

func (f *fakeIndex) Build(context.Context) (retriever.BuildStats, error) {
	return retriever.BuildStats{Documents: 2, Chunks: 5, Duration: 1500 * time.Millisecond}, f.buildErr
}

func (f *fakeIndex) Save(context.Context) error {
	f.saves++
	return f.saveErr
}

func (f *fakeIndex) Len() int { return len(f.added) + len(f.results) }

func newTestServer(t *testing.T, a *fakeAsker, idx *fakeIndex, timeout time.Duration) *Server {
	t.Helper()
	s, err := New(Config{Mode: gin.TestMode, RequestTimeout: timeout}, Dependencies{Service: a, Index: idx})
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAskReturnsAnswerAndSources(t *testing.T) {
	a := &fakeAsker{answer: service.Answer{Text: "Paris.", Sources: []string{"france.txt"}}}
	s := newTestServer(t, a, &fakeIndex{}, time.Second)

	w := do(t, s, http.MethodPost, "/ask", `{"query":"capital of France?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"Paris.","sources":["france.txt"]}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	_, hasDeadline := a.ctx.Deadline()
	assert.True(t, hasDeadline)
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	a := &fakeAsker{}
	s := newTestServer(t, a, &fakeIndex{}, 0)

	w := do(t, s, http.MethodPost, "/ask", `{"query":"   "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_query", errorCode(t, w))
	assert.Zero(t, a.calls)
}

func TestAskRejectsMalformedBodies(t *testing.T) {
	a := &fakeAsker{}
	s := newTestServer(t, a, &fakeIndex{}, 0)
	for _, body := range []string{
		`{"query":"q","extra":true}`,
		`{"query":`,
		`{"query":"a"}{"query":"b"}`,
		`["q"]`,
	} {
		w := do(t, s, http.MethodPost, "/ask", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Zero(t, a.calls)
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrEmptyCorpus, http.StatusNotFound, "no_answer"},
		{errors.Join(domain.ErrUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable, "unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		s := newTestServer(t, &fakeAsker{err: tc.err}, &fakeIndex{}, 0)
		w := do(t, s, http.MethodPost, "/ask", `{"query":"q"}`)
		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, tc.code, errorCode(t, w))
		assert.NotContains(t, w.Body.String(), "answer\"")
	}
}

func TestSearchDefaultsAndBounds(t *testing.T) {
	idx := &fakeIndex{results: []domain.SearchResult{{Text: "t", Source: "a.txt", Score: 0.5}}}
	s := newTestServer(t, &fakeAsker{}, idx, 0)

	w := do(t, s, http.MethodPost, "/search", `{"query":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultSearchK, idx.lastK)
	assert.JSONEq(t, `{"results":[{"text":"t","source":"a.txt","similarity":0.5}]}`, w.Body.String())

	for _, body := range []string{`{"query":"q","k":0}`, `{"query":"q","k":101}`} {
		w := do(t, s, http.MethodPost, "/search", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w = do(t, s, http.MethodPost, "/search", `{"query":"q","k":100}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, idx.lastK)
}

func TestAddDefaultsSourceAndSaves(t *testing.T) {
	idx := &fakeIndex{saveErr: domain.ErrConfiguration}
	s := newTestServer(t, &fakeAsker{}, idx, 0)

	w := do(t, s, http.MethodPost, "/add", `{"text":"new passage"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"api:new passage"}, idx.added)
	assert.Equal(t, 1, idx.saves)

	w = do(t, s, http.MethodPost, "/add", `{"text":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRebuild(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, &fakeIndex{}, 0)
	w := do(t, s, http.MethodPost, "/index/rebuild", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documents":2,"chunks":5,"duration_ms":1500}`, w.Body.String())

	s = newTestServer(t, &fakeAsker{}, &fakeIndex{buildErr: domain.ErrUnavailable}, 0)
	w = do(t, s, http.MethodPost, "/index/rebuild", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, &fakeAsker{}, &fakeIndex{results: make([]domain.SearchResult, 3)}, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["entries"])
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{Mode: gin.TestMode}, Dependencies{})
	require.Error(t, err)
}
