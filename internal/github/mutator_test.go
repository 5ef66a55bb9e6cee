package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/appforge/internal/deploy"
	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/pkg/tokenstore"
)

const appSource = "import React from 'react';\nconst App = () => <div>hi</div>;\nexport default App;\n"

func newTestMutator(t *testing.T, fake *fakeGitHub, tokens TokenSource) *Mutator {
	t.Helper()
	if tokens == nil {
		tokens = StaticToken("ghp_test")
	}
	return NewMutator(Config{Owner: "octo", Prefix: "react-app-", BaseURL: fake.URL()}, tokens, zerolog.Nop())
}

func TestCreateOrUpdate_CreatesRepository(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, nil)

	info, err := m.CreateOrUpdate(context.Background(), appSource, "abc123")
	require.NoError(t, err)

	assert.Equal(t, &RepoInfo{
		RepoName:      "react-app-abc123",
		RepoURL:       "https://github.com/octo/react-app-abc123",
		DeploymentURL: "https://octo.github.io/react-app-abc123",
	}, info)

	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, "", fake.createdIn, "created under the authenticated user")
	assert.Equal(t, 1, fake.refUpdates, "exactly one ref update")
	assert.Len(t, fake.blobs, 7)
	assert.Contains(t, fake.blobs, "blob-1")
	assert.Equal(t, appSource, fake.blobs["blob-1"])

	last := fake.commits[len(fake.commits)-1]
	assert.Equal(t, "Update app code for prompt abc123", last.Message)
	assert.Equal(t, "init", last.Parent)
	assert.Equal(t, "tree-7", last.Tree)
	assert.Equal(t, last.SHA, fake.repos["react-app-abc123"])

	assert.True(t, fake.pagesEnabled["react-app-abc123"])
	for _, h := range fake.authHeaders {
		assert.Equal(t, "token ghp_test", h)
	}
}

func TestCreateOrUpdate_IdempotentOnSeed(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, nil)
	ctx := context.Background()

	first, err := m.CreateOrUpdate(ctx, appSource, "abc123")
	require.NoError(t, err)
	headAfterFirst := fake.repos["react-app-abc123"]

	second, err := m.CreateOrUpdate(ctx, appSource+"// v2\n", "abc123")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.creates, "no duplicate creation")
	assert.Equal(t, 2, fake.refUpdates)
	assert.Equal(t, 1, fake.pagesRequests, "pages enabled only once")

	last := fake.commits[len(fake.commits)-1]
	assert.Equal(t, headAfterFirst, last.Parent, "history advances from the previous head")
	assert.Equal(t, last.SHA, fake.repos["react-app-abc123"])
}

func TestCreateOrUpdate_CreateInOrg(t *testing.T) {
	fake := newFakeGitHub(t)
	m := NewMutator(Config{Owner: "acme", Prefix: "app-", BaseURL: fake.URL(), CreateInOrg: true}, StaticToken("t"), zerolog.Nop())

	_, err := m.CreateOrUpdate(context.Background(), appSource, "s1")
	require.NoError(t, err)
	assert.Equal(t, "acme", fake.createdIn)
}

func TestCreateOrUpdate_PagesFailureIsNotFatal(t *testing.T) {
	fake := newFakeGitHub(t)
	fake.failPath = "POST /repos/octo/react-app-p1/pages"
	m := newTestMutator(t, fake, nil)

	info, err := m.CreateOrUpdate(context.Background(), appSource, "p1")
	require.NoError(t, err)
	assert.Equal(t, "react-app-p1", info.RepoName)
	assert.False(t, fake.pagesEnabled["react-app-p1"])
}

func TestCreateOrUpdate_CommitFailure(t *testing.T) {
	fake := newFakeGitHub(t)
	fake.failPath = "POST /repos/octo/react-app-x/git/commits"
	m := newTestMutator(t, fake, nil)

	_, err := m.CreateOrUpdate(context.Background(), appSource, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrRepoMutation)
	assert.Contains(t, err.Error(), "GitHub operation failed")
	assert.Equal(t, 0, fake.refUpdates, "no ref update after a failed commit")
}

func TestMutator_MissingCredential(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, StaticToken(""))
	ctx := context.Background()

	_, err := m.CreateOrUpdate(ctx, appSource, "abc")
	assert.ErrorIs(t, err, perrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")

	_, err = m.UpdateFile(ctx, "react-app-abc", AppSourcePath, appSource, "Edit: x")
	assert.ErrorIs(t, err, perrors.ErrConfiguration)

	assert.Equal(t, deploy.StatusFailure, m.PollOnce(ctx, "react-app-abc"))
	assert.Empty(t, fake.authHeaders, "nothing sent without a credential")
}

func TestUpdateFile_UpdatesExisting(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, nil)
	ctx := context.Background()
	fake.repos["react-app-abc"] = "head"
	fake.files["react-app-abc/src/App.tsx"] = "old-sha"

	res, err := m.UpdateFile(ctx, "react-app-abc", AppSourcePath, "new code", "Edit: add dark mode")
	require.NoError(t, err)

	assert.Equal(t, "edit-commit-1", res.CommitSHA)
	assert.Equal(t, "https://octo.github.io/react-app-abc", res.DeploymentURL)
	require.Len(t, fake.fileWrites, 1)
	w := fake.fileWrites[0]
	assert.Equal(t, "old-sha", w.SHA)
	assert.Equal(t, "new code", w.Content)
	assert.Equal(t, "main", w.Branch)
	assert.Equal(t, "Edit: add dark mode", w.Message)
}

func TestUpdateFile_CreatesMissing(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, nil)
	fake.repos["react-app-abc"] = "head"

	res, err := m.UpdateFile(context.Background(), "react-app-abc", "src/Other.tsx", "x", "add")
	require.NoError(t, err)
	assert.NotEmpty(t, res.CommitSHA)
	require.Len(t, fake.fileWrites, 1)
	assert.Empty(t, fake.fileWrites[0].SHA)
}

func TestUpdateFile_Failure(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, nil)

	_, err := m.UpdateFile(context.Background(), "react-app-missing", AppSourcePath, "x", "m")
	assert.ErrorIs(t, err, perrors.ErrFileUpdate)

	fake.repos["react-app-abc"] = "head"
	fake.failPath = "PUT /repos/octo/react-app-abc/contents/src/App.tsx"
	_, err = m.UpdateFile(context.Background(), "react-app-abc", AppSourcePath, "x", "m")
	assert.ErrorIs(t, err, perrors.ErrFileUpdate)
	assert.Contains(t, err.Error(), "boom")
}

func TestPollOnce(t *testing.T) {
	cases := []struct {
		name string
		runs []map[string]any
		want deploy.Status
	}{
		{name: "no runs", runs: nil, want: deploy.StatusPending},
		{name: "queued", runs: []map[string]any{{"status": "queued"}}, want: deploy.StatusPending},
		{name: "in progress", runs: []map[string]any{{"status": "in_progress"}}, want: deploy.StatusPending},
		{name: "waiting", runs: []map[string]any{{"status": "waiting"}}, want: deploy.StatusPending},
		{name: "success", runs: []map[string]any{{"status": "completed", "conclusion": "success"}}, want: deploy.StatusSuccess},
		{name: "failure", runs: []map[string]any{{"status": "completed", "conclusion": "failure"}}, want: deploy.StatusFailure},
		{name: "cancelled", runs: []map[string]any{{"status": "completed", "conclusion": "cancelled"}}, want: deploy.StatusFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeGitHub(t)
			fake.runs = tc.runs
			m := newTestMutator(t, fake, nil)
			assert.Equal(t, tc.want, m.PollOnce(context.Background(), "react-app-abc"))
		})
	}
}

func TestPollOnce_FollowsLatestCommit(t *testing.T) {
	fake := newFakeGitHub(t)
	m := newTestMutator(t, fake, nil)
	ctx := context.Background()
	fake.repos["react-app-abc"] = "head"
	fake.files["react-app-abc/src/App.tsx"] = "old-sha"
	fake.runs = []map[string]any{{"head_sha": "head", "status": "completed", "conclusion": "success"}}

	res, err := m.UpdateFile(ctx, "react-app-abc", AppSourcePath, "new code", "Edit: add dark mode")
	require.NoError(t, err)
	assert.Equal(t, deploy.StatusPending, m.PollOnce(ctx, "react-app-abc"),
		"the run of the previous commit does not count")

	fake.mu.Lock()
	fake.runs = append([]map[string]any{{"head_sha": res.CommitSHA, "status": "completed", "conclusion": "failure"}}, fake.runs...)
	fake.mu.Unlock()
	assert.Equal(t, deploy.StatusFailure, m.PollOnce(ctx, "react-app-abc"))
}

func TestPollOnce_ErrorIsFailure(t *testing.T) {
	fake := newFakeGitHub(t)
	fake.failPath = "GET /repos/octo/react-app-abc/actions/runs"
	m := newTestMutator(t, fake, nil)
	assert.Equal(t, deploy.StatusFailure, m.PollOnce(context.Background(), "react-app-abc"))
}

func TestScaffoldFiles(t *testing.T) {
	files, err := scaffoldFiles("react-app-abc", "https://octo.github.io/react-app-abc", appSource)
	require.NoError(t, err)

	byPath := map[string]string{}
	for _, f := range files {
		byPath[f.Path] = f.Content
	}
	assert.Equal(t, appSource, byPath[AppSourcePath])
	for _, p := range []string{"src/index.tsx", "public/index.html", "package.json", "tsconfig.json", ".github/workflows/deploy.yml", ".gitignore"} {
		assert.NotEmpty(t, byPath[p], p)
	}

	var manifest map[string]any
	require.NoError(t, json.Unmarshal([]byte(byPath["package.json"]), &manifest))
	assert.Equal(t, "react-app-abc", manifest["name"])
	assert.Equal(t, "https://octo.github.io/react-app-abc", manifest["homepage"])

	var wf map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(byPath[".github/workflows/deploy.yml"]), &wf))
	assert.Equal(t, "Build and Deploy", wf["name"])
	on, ok := wf["on"].(map[string]any)
	require.True(t, ok, "trigger key must stay a string key")
	push := on["push"].(map[string]any)
	assert.Equal(t, []any{"main", "master"}, push["branches"])
	jobs := wf["jobs"].(map[string]any)
	deployJob := jobs["deploy"].(map[string]any)
	assert.Equal(t, "build", deployJob["needs"])
	env := deployJob["environment"].(map[string]any)
	assert.Equal(t, "${{ steps.deployment.outputs.page_url }}", env["url"])
}

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken(" ghp_x ").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", tok)

	_, err = StaticToken("  ").Token(context.Background())
	assert.ErrorIs(t, err, perrors.ErrConfiguration)
}

func TestAppTokenSource_Cached(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, installationTokenKey, "cached-token-123", 10*time.Minute))

	src, err := NewAppTokenSourceFromKeyBytes(12345, 67890, generateTestKey(t), store, zerolog.Nop())
	require.NoError(t, err)

	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cached-token-123", tok)
}

func TestAppTokenSource_FromAPI(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/app/installations/67890/access_tokens", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		writeJSON(w, http.StatusCreated, map[string]any{
			"token":      "ghs_test_token_123",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer server.Close()

	store := tokenstore.NewMemoryStore()
	src, err := NewAppTokenSourceFromKeyBytes(12345, 67890, generateTestKey(t), store, zerolog.Nop())
	require.NoError(t, err)
	src.WithBaseURL(server.URL)

	ctx := context.Background()
	tok, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ghs_test_token_123", tok)

	tok, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ghs_test_token_123", tok)
	assert.Equal(t, 1, calls, "second call served from cache")

	cached, err := store.Get(ctx, installationTokenKey)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(55*time.Minute), cached.ExpiresAt, 2*time.Minute)
}

func TestAppTokenSource_BadKey(t *testing.T) {
	_, err := NewAppTokenSourceFromKeyBytes(1, 2, []byte("not a key"), tokenstore.NewMemoryStore(), zerolog.Nop())
	assert.Error(t, err)
}
