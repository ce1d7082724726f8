package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/codec"
	"stagehand/internal/service"
	"stagehand/internal/state"
)

func newServer(t *testing.T) (*service.Room, http.Handler) {
	t.Helper()
	room, err := service.NewRoom("main", map[int]state.Record{
		0: {"name": "Jon", "age": 23},
		1: {"name": "Ben"},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewRoomHandler(room, nil).Register(mux)
	return room, mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestMemberLifecycle(t *testing.T) {
	_, h := newServer(t)

	rec := do(t, h, http.MethodPatch, "/api/members/0", `{"name":"Jonathan","age":null}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/members", `{"name":"Ann"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["id"])

	rec = do(t, h, http.MethodDelete, "/api/members/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// staged only
	rec = do(t, h, http.MethodGet, "/api/members/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"name": "Jon", "age": float64(23)}, decode(t, rec))

	rec = do(t, h, http.MethodGet, "/api/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode(t, rec)["update"])

	rec = do(t, h, http.MethodPost, "/api/commit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	frame, err := codec.DecodeFrame(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, state.Record{
		"0": state.Record{"name": "Jonathan"},
		"2": state.Record{"name": "Ann"},
	}, frame.Data)

	rec = do(t, h, http.MethodPost, "/api/commit", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/members", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"0": map[string]any{"name": "Jonathan"},
		"2": map[string]any{"name": "Ann"},
	}, decode(t, rec))
}

func TestMemberErrors(t *testing.T) {
	_, h := newServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"unknown member", http.MethodGet, "/api/members/9", "", http.StatusNotFound},
		{"stage unknown member", http.MethodPatch, "/api/members/9", `{"a":1}`, http.StatusNotFound},
		{"delete unknown member", http.MethodDelete, "/api/members/9", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/members/abc", "", http.StatusBadRequest},
		{"negative id", http.MethodGet, "/api/members/-1", "", http.StatusBadRequest},
		{"bad body", http.MethodPatch, "/api/members/0", `[1,2]`, http.StatusBadRequest},
		{"duplicate id", http.MethodPost, "/api/members?id=0", `{}`, http.StatusConflict},
		{"bad query id", http.MethodPost, "/api/members?id=x", `{}`, http.StatusBadRequest},
		{"bad export format", http.MethodGet, "/api/export?format=xml", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestMintWithID(t *testing.T) {
	room, h := newServer(t)

	rec := do(t, h, http.MethodPost, "/api/members?id=7", `{"name":"Sam"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(7), decode(t, rec)["id"])

	do(t, h, http.MethodPost, "/api/commit", "")
	data, err := room.Member(7)
	require.NoError(t, err)
	assert.Equal(t, state.Record{"name": "Sam"}, data)
}

func TestDiscardPending(t *testing.T) {
	room, h := newServer(t)

	do(t, h, http.MethodPatch, "/api/members/0", `{"name":"X"}`)
	rec := do(t, h, http.MethodDelete, "/api/pending", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, room.Pending())
}

func TestSnapshotAndHealth(t *testing.T) {
	_, h := newServer(t)

	rec := do(t, h, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	frame, err := codec.DecodeFrame(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, codec.FrameSnapshot, frame.Kind)
	assert.Equal(t, state.Record{"name": "Ben"}, frame.Data["1"])

	rec = do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main", decode(t, rec)["room"])
}

func TestExportImport(t *testing.T) {
	room, h := newServer(t)

	rec := do(t, h, http.MethodGet, "/api/export?format=yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
	seed, err := codec.NewYAMLCodec().Parse(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, room.Members(), seed.Members)

	body := `{"members":{"0":{"name":"Jon","age":24},"5":{"name":"Eve"}}}`
	rec = do(t, h, http.MethodPost, "/api/import?format=json", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode(t, rec)["pending"])

	do(t, h, http.MethodPost, "/api/commit", "")
	assert.Equal(t, map[int]state.Record{
		0: {"name": "Jon", "age": 24},
		5: {"name": "Eve"},
	}, room.Members())

	rec = do(t, h, http.MethodPost, "/api/import?format=yaml", "members: [")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
