package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/appforge/internal/deploy"
	"github.com/p-blackswan/appforge/internal/retry"
)

type postedForm struct {
	Channel string
	Text    string
	Blocks  string
}

func newSlackServer(t *testing.T, ok bool) (*httptest.Server, *[]postedForm) {
	t.Helper()
	var (
		mu     sync.Mutex
		posted []postedForm
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		mu.Lock()
		posted = append(posted, postedForm{
			Channel: r.PostForm.Get("channel"),
			Text:    r.PostForm.Get("text"),
			Blocks:  r.PostForm.Get("blocks"),
		})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C123", "ts": "1700000000.000100"})
	}))
	t.Cleanup(srv.Close)
	return srv, &posted
}

func deployment(status deploy.Status) Deployment {
	return Deployment{
		ProjectID:     "p1",
		ProjectName:   "Counter",
		RepoName:      "react-app-abc123",
		RepoURL:       "https://github.com/acme/react-app-abc123",
		DeploymentURL: "https://acme.github.io/react-app-abc123",
		Status:        status,
	}
}

func TestDeploymentFinished_Success(t *testing.T) {
	srv, posted := newSlackServer(t, true)
	n := NewSlack("xoxb-test", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	err := n.DeploymentFinished(context.Background(), deployment(deploy.StatusSuccess))
	require.NoError(t, err)

	require.Len(t, *posted, 1)
	got := (*posted)[0]
	assert.Equal(t, "C123", got.Channel)
	assert.Equal(t, "Counter deployed: https://acme.github.io/react-app-abc123", got.Text)
	assert.Contains(t, got.Blocks, "react-app-abc123")
}

func TestDeploymentFinished_APIError(t *testing.T) {
	srv, _ := newSlackServer(t, false)
	n := NewSlack("xoxb-test", "C404", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	err := n.DeploymentFinished(context.Background(), deployment(deploy.StatusFailure))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		d    Deployment
		want string
	}{
		{"success", deployment(deploy.StatusSuccess), "Counter deployed: https://acme.github.io/react-app-abc123"},
		{"failure", deployment(deploy.StatusFailure), "Counter deployment failed: https://github.com/acme/react-app-abc123/actions"},
		{"pending", deployment(deploy.StatusPending), "Counter deployment is pending"},
		{"falls back to repo name", Deployment{RepoName: "react-app-x", Status: deploy.StatusPending}, "react-app-x deployment is pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.d))
		})
	}
}

func TestBlocks(t *testing.T) {
	assert.Len(t, Blocks(deployment(deploy.StatusSuccess)), 2)
	assert.Len(t, Blocks(Deployment{RepoName: "r", Status: deploy.StatusFailure}), 1)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.DeploymentFinished(context.Background(), deployment(deploy.StatusSuccess)))
}

func flakySlackServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C123", "ts": "1700000000.000100"})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDeploymentFinished_RetriesServerError(t *testing.T) {
	srv, calls := flakySlackServer(t, 1)
	n := NewSlack("xoxb-test", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/")).
		WithRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	require.NoError(t, n.DeploymentFinished(context.Background(), deployment(deploy.StatusSuccess)))
	assert.EqualValues(t, 2, calls.Load())
}

func TestDeploymentFinished_SinglePostWithoutRetry(t *testing.T) {
	srv, calls := flakySlackServer(t, 1)
	n := NewSlack("xoxb-test", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	require.Error(t, n.DeploymentFinished(context.Background(), deployment(deploy.StatusSuccess)))
	assert.EqualValues(t, 1, calls.Load())
}

func TestDeploymentFinished_APIErrorNotRetried(t *testing.T) {
	srv, posted := newSlackServer(t, false)
	n := NewSlack("xoxb-test", "C404", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/")).
		WithRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	require.Error(t, n.DeploymentFinished(context.Background(), deployment(deploy.StatusFailure)))
	assert.Len(t, *posted, 1)
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(&slack.RateLimitedError{RetryAfter: time.Second}))
	assert.True(t, Transient(slack.StatusCodeError{Code: 502, Status: "502 Bad Gateway"}))
	assert.False(t, Transient(slack.StatusCodeError{Code: 403, Status: "403 Forbidden"}))
	assert.False(t, Transient(slack.SlackErrorResponse{Err: "channel_not_found"}))
}
