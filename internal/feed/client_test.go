package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/feedforge/internal/retry"
)

func newTestClient() *Client {
	return NewClient(&Options{Timeout: 5 * time.Second, RatePerSecond: 1000})
}

func TestFetchItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cur-1", r.URL.Query().Get("cursor"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		_ = json.NewEncoder(w).Encode(batchResponse{
			Items: []Item{
				{ID: "1", Type: "post", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Text: "first"},
				{ID: "2", Type: "post", Timestamp: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC), Text: "second"},
			},
			NextCursor: "cur-2",
		})
	}))
	defer server.Close()

	items, next, err := newTestClient().FetchItems(context.Background(), server.URL, "cur-1", 25)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Text)
	assert.Equal(t, "cur-2", next)
}

func TestFetchNested_UsesThreadPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/threads/parent-9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(batchResponse{
			Items:      []Item{{ID: "r1", Type: "reply", ParentID: "parent-9", Text: "a reply"}},
			NextCursor: "t-cur",
		})
	}))
	defer server.Close()

	items, next, err := newTestClient().FetchNested(context.Background(), server.URL+"/feed", "parent-9", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "parent-9", items[0].ParentID)
	assert.Equal(t, "t-cur", next)
}

func TestFetchItems_StripsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(batchResponse{
			Items: []Item{{ID: "1", Type: "post", HTML: "<article><script>x()</script><p>Hello   <b>world</b></p></article>"}},
		})
	}))
	defer server.Close()

	items, _, err := newTestClient().FetchItems(context.Background(), server.URL, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Hello world", items[0].Text)
}

func TestFetchItems_RetryableStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, _, err := newTestClient().FetchItems(context.Background(), server.URL, "", 10)
	require.Error(t, err)
	assert.Equal(t, retry.ClassRetryable, retry.Classify(err))
}

func TestFetchItems_PermanentStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, _, err := newTestClient().FetchItems(context.Background(), server.URL, "", 10)
	require.Error(t, err)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestFetchItems_MalformedBodyIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	_, _, err := newTestClient().FetchItems(context.Background(), server.URL, "", 10)
	require.Error(t, err)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestFetchItems_InvalidURL(t *testing.T) {
	_, _, err := newTestClient().FetchItems(context.Background(), "not a url", "", 10)
	require.Error(t, err)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestStripHTML(t *testing.T) {
	text, err := StripHTML("<div><nav>menu</nav><p>line one</p>\n<p>line   two</p></div>")
	require.NoError(t, err)
	assert.NotContains(t, text, "menu")
	assert.Contains(t, text, "line one")
	assert.Contains(t, text, "line two")
}

func TestHostLimiter_SharedPerHost(t *testing.T) {
	limiter := NewHostLimiter(1000, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx, "https://a.example.test/feed"))
	require.NoError(t, limiter.Wait(ctx, "https://b.example.test/feed"))

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Len(t, limiter.limiters, 2)
}
