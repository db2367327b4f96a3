package threadkeeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *Threadkeeper) {
	t.Helper()
	tk := &Threadkeeper{
		config:  DefaultTestConfig(t),
		logger:  slog.Default(),
		db:      testDB(t),
		discord: &Discord{},
	}
	return NewAPI(tk, tk.config.API), tk
}

func apiGet(t *testing.T, api *API, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestAPIHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiGet(t, api, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["discord_connected"])
}

func TestAPIListPostsFiltersByState(t *testing.T) {
	api, tk := newTestAPI(t)
	ctx := context.Background()
	now := time.Now()

	open := &SupportPost{
		ID:           "thread-open",
		AuthorID:     "user-1",
		LastActivity: now.UnixMilli(),
	}
	closed := &SupportPost{
		ID:           "thread-closed",
		AuthorID:     "user-2",
		LastActivity: now.UnixMilli(),
		ClosedAt:     &now,
	}
	_, err := tk.db.Create(ctx, open)
	require.NoError(t, err)
	_, err = tk.db.Create(ctx, closed)
	require.NoError(t, err)

	w := apiGet(t, api, "/api/posts")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Posts []SupportPost `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all.Posts, 2)

	w = apiGet(t, api, "/api/posts?state=closed")
	require.Equal(t, http.StatusOK, w.Code)
	var filtered struct {
		Posts []SupportPost `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	require.Len(t, filtered.Posts, 1)
	assert.Equal(t, "thread-closed", filtered.Posts[0].ID)

	w = apiGet(t, api, "/api/posts?state=open-active")
	var openOnly struct {
		Posts []SupportPost `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &openOnly))
	require.Len(t, openOnly.Posts, 1)
	assert.Equal(t, "thread-open", openOnly.Posts[0].ID)
}

func TestAPIGetPost(t *testing.T) {
	api, tk := newTestAPI(t)
	_, err := tk.db.Create(
		context.Background(),
		&SupportPost{ID: "thread-1", AuthorID: "user-1"},
	)
	require.NoError(t, err)

	w := apiGet(t, api, "/api/posts/thread-1")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Post  SupportPost `json:"post"`
		State PostState   `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "thread-1", body.Post.ID)
	assert.Equal(t, PostStateOpenActive, body.State)

	w = apiGet(t, api, "/api/posts/no-such-thread")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIListFeatureRequests(t *testing.T) {
	api, tk := newTestAPI(t)
	_, err := tk.db.Create(
		context.Background(),
		&FeatureRequest{
			UserID:  "user-1",
			Title:   "dark mode",
			Upvotes: StringSet{"user-2": {}},
		},
	)
	require.NoError(t, err)

	w := apiGet(t, api, "/api/features")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		FeatureRequests []FeatureRequest `json:"feature_requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.FeatureRequests, 1)
	assert.Equal(t, "dark mode", body.FeatureRequests[0].Title)
}

func TestAPIPageSizeClamped(t *testing.T) {
	api, tk := newTestAPI(t)
	_, err := tk.db.Create(
		context.Background(),
		&CommandLog{UserID: "user-1", Command: "solve"},
	)
	require.NoError(t, err)

	w := apiGet(t, api, "/api/commands?limit=junk")
	assert.Equal(t, http.StatusOK, w.Code)

	w = apiGet(t, api, "/api/commands?limit=100000")
	assert.Equal(t, http.StatusOK, w.Code)
}
