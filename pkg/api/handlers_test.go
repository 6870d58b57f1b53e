package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamdb/pkg/api"
	"streamdb/pkg/config"
	"streamdb/pkg/store"
	"streamdb/pkg/stream"
)

func newTestAPI(t *testing.T, rl config.RateLimitConfig) http.Handler {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backend, err := stream.NewBackend(db)
	require.NoError(t, err)
	return api.NewRouter(backend, rl)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})
	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestCreateAndGetActivities(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})

	w := doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
		"id": "a1", "verb": "post", "actor": "user1", "object": "note1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "a1", created["id"])
	assert.Equal(t, "post", created["verb"])

	w = doJSON(t, h, http.MethodGet, "/v1/activities?ids=a1&verb=post", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acts, ok := decode(t, w)["activities"].([]any)
	require.True(t, ok)
	require.Len(t, acts, 1)

	w = doJSON(t, h, http.MethodGet, "/v1/activities?ids=a1&verb=share", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acts, _ = decode(t, w)["activities"].([]any)
	assert.Empty(t, acts)
}

func TestGetActivitiesAudienceParams(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})

	w := doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
		"id": "t1", "verb": "post", "actor": "user1", "object": "note1",
		"to": []any{"user2"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
		"id": "t2", "verb": "post", "actor": "user1", "object": "note2",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/v1/activities?ids=t1,t2&to=user2", nil)
	acts, _ := decode(t, w)["activities"].([]any)
	require.Len(t, acts, 1)

	w = doJSON(t, h, http.MethodGet, "/v1/activities?ids=t1,t2&to=user2&includePublic=true", nil)
	acts, _ = decode(t, w)["activities"].([]any)
	assert.Len(t, acts, 2)
}

func TestGetActivitiesGroupByParam(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})

	for _, id := range []string{"g1", "g2"} {
		w := doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
			"id": id, "verb": "post", "actor": "user1", "object": "note-" + id,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := doJSON(t, h, http.MethodGet, "/v1/activities?ids=g1,g2&groupBy=verb", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acts, _ := decode(t, w)["activities"].([]any)
	require.Len(t, acts, 1)
	agg, ok := acts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"post"}, agg["groupedByValues"])
}

func TestCreateActivityInvalidJSON(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})
	req := httptest.NewRequest(http.MethodPost, "/v1/activities", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid json", decode(t, w)["error"])
}

func TestCreateActivityValidationError(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})
	w := doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
		"verb": "post", "actor": "user1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteActivityNotFound(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})
	w := doJSON(t, h, http.MethodDelete, "/v1/activities/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestObjectsRoundTrip(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})

	w := doJSON(t, h, http.MethodPost, "/v1/objects", map[string]any{
		"objectType": "user", "id": "u1", "published": "2012-07-05T12:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/v1/objects?ids=u1,missing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	objs, ok := decode(t, w)["objects"].([]any)
	require.True(t, ok)
	require.Len(t, objs, 1)

	w = doJSON(t, h, http.MethodGet, "/v1/objects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	objs, ok = decode(t, w)["objects"].([]any)
	require.True(t, ok)
	assert.Empty(t, objs)
}

func TestReplyFlow(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})

	w := doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
		"id": "a1", "verb": "post", "actor": "user1", "object": "note1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// actor is mandatory
	w = doJSON(t, h, http.MethodPost, "/v1/activities/a1/replies", map[string]any{
		"content": "hello",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/activities/a1/replies", map[string]any{
		"actor": "user2", "content": "hello",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	reply, ok := body["reply"].(map[string]any)
	require.True(t, ok)
	replyID, ok := reply["id"].(string)
	require.True(t, ok)
	parent, ok := body["activity"].(map[string]any)
	require.True(t, ok)
	replies, ok := parent["replies"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), replies["totalItems"])

	w = doJSON(t, h, http.MethodDelete, "/v1/replies/"+replyID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	parent, ok = decode(t, w)["activity"].(map[string]any)
	require.True(t, ok)
	_, hasReplies := parent["replies"]
	assert.False(t, hasReplies)
}

func TestLikeFlow(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{})

	w := doJSON(t, h, http.MethodPost, "/v1/activities", map[string]any{
		"id": "a1", "verb": "post", "actor": "user1", "object": "note1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, "/v1/activities/a1/likes", map[string]any{
		"actor": "user2",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	like, ok := decode(t, w)["like"].(map[string]any)
	require.True(t, ok)

	// a like cannot be deleted through the replies endpoint
	w = doJSON(t, h, http.MethodDelete, "/v1/replies/"+like["id"].(string), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodDelete, "/v1/likes/"+like["id"].(string), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRateLimiting(t *testing.T) {
	h := newTestAPI(t, config.RateLimitConfig{RPS: 0.001, Burst: 1})

	w := doJSON(t, h, http.MethodGet, "/v1/activities", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/activities", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", decode(t, w)["error"])

	// the health endpoint sits outside the throttled surface
	w = doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
