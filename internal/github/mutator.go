// Package github commits generated apps to GitHub repositories, enables
// GitHub Pages for them and reports the state of their deploy workflow.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/deploy"
	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/metrics"
)

// RepoInfo addresses a project's repository.
type RepoInfo struct {
	RepoName      string `json:"repo_name"`
	RepoURL       string `json:"repo_url"`
	DeploymentURL string `json:"deployment_url"`
}

// UpdateInfo is the result of a single-file update.
type UpdateInfo struct {
	RepoInfo
	CommitSHA string `json:"commit_sha"`
}

// Config configures a Mutator.
type Config struct {
	Owner  string
	Prefix string
	// BaseURL overrides the REST API root, e.g. for GitHub Enterprise.
	BaseURL string
	// CreateInOrg creates missing repositories under Owner as an organization
	// instead of under the authenticated user.
	CreateInOrg bool
}

// Mutator performs repository operations on behalf of projects.
type Mutator struct {
	cfg     Config
	tokens  TokenSource
	rt      http.RoundTripper
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex
	heads map[string]string // repo -> last commit written by this process
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithTransport sets the base HTTP transport (tests).
func WithTransport(rt http.RoundTripper) MutatorOption {
	return func(m *Mutator) { m.rt = rt }
}

// WithMetrics records mutation outcomes.
func WithMetrics(mt *metrics.Metrics) MutatorOption {
	return func(m *Mutator) { m.metrics = mt }
}

// NewMutator creates a Mutator.
func NewMutator(cfg Config, tokens TokenSource, logger zerolog.Logger, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		cfg:    cfg,
		tokens: tokens,
		rt:     http.DefaultTransport,
		heads:  make(map[string]string),
		logger: logger.With().Str("component", "github").Str("owner", cfg.Owner).Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RepoName derives the deterministic repository name for a project seed.
func (m *Mutator) RepoName(seed string) string {
	return m.cfg.Prefix + seed
}

// Info returns the addressable identifiers of repoName. The deployment URL
// is known before any deployment has run.
func (m *Mutator) Info(repoName string) RepoInfo {
	return RepoInfo{
		RepoName:      repoName,
		RepoURL:       fmt.Sprintf("https://github.com/%s/%s", m.cfg.Owner, repoName),
		DeploymentURL: fmt.Sprintf("https://%s.github.io/%s", m.cfg.Owner, repoName),
	}
}

// client checks the credential and builds a client for one invocation.
func (m *Mutator) client(ctx context.Context) (*gh.Client, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return newRESTClient(nil, &tokenTransport{scheme: "token", token: token, base: m.rt}, m.cfg.BaseURL)
}

// CreateOrUpdate commits source together with the default file set to the
// repository keyed by seed, creating the repository when it does not exist.
// All files land in a single commit followed by a single ref update.
func (m *Mutator) CreateOrUpdate(ctx context.Context, source, seed string) (*RepoInfo, error) {
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	repoName := m.RepoName(seed)
	info := m.Info(repoName)
	log := m.logger.With().Str("repo", repoName).Logger()
	start := time.Now()

	fail := func(op string, err error) (*RepoInfo, error) {
		m.metrics.RecordRepoMutation("create_or_update", "error")
		log.Error().Err(err).Str("op", op).Msg("repository mutation failed")
		return nil, &perrors.RepoMutationError{Repo: repoName, Op: op, Err: err}
	}

	branch, err := m.ensureRepo(ctx, client, repoName, seed, log)
	if err != nil {
		return fail("ensure repository", err)
	}

	ref, _, err := client.Git.GetRef(ctx, m.cfg.Owner, repoName, "heads/"+branch)
	if err != nil {
		return fail("get ref", err)
	}
	parentSHA := ref.GetObject().GetSHA()

	parent, _, err := client.Git.GetCommit(ctx, m.cfg.Owner, repoName, parentSHA)
	if err != nil {
		return fail("get commit", err)
	}

	files, err := scaffoldFiles(repoName, info.DeploymentURL, source)
	if err != nil {
		return fail("render files", err)
	}

	entries := make([]*gh.TreeEntry, 0, len(files))
	for _, f := range files {
		blob, _, err := client.Git.CreateBlob(ctx, m.cfg.Owner, repoName, &gh.Blob{
			Content:  gh.String(f.Content),
			Encoding: gh.String("utf-8"),
		})
		if err != nil {
			return fail("create blob "+f.Path, err)
		}
		entries = append(entries, &gh.TreeEntry{
			Path: gh.String(f.Path),
			Mode: gh.String("100644"),
			Type: gh.String("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := client.Git.CreateTree(ctx, m.cfg.Owner, repoName, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return fail("create tree", err)
	}

	commit, _, err := client.Git.CreateCommit(ctx, m.cfg.Owner, repoName, &gh.Commit{
		Message: gh.String("Update app code for prompt " + seed),
		Tree:    tree,
		Parents: []*gh.Commit{{SHA: gh.String(parentSHA)}},
	}, nil)
	if err != nil {
		return fail("create commit", err)
	}

	_, _, err = client.Git.UpdateRef(ctx, m.cfg.Owner, repoName, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return fail("update ref", err)
	}

	m.ensurePages(ctx, client, repoName, log)
	m.setHead(repoName, commit.GetSHA())

	m.metrics.RecordRepoMutation("create_or_update", "ok")
	log.Info().
		Str("commit", commit.GetSHA()).
		Int("files", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("repository updated")
	return &info, nil
}

// ensureRepo returns the default branch of repoName, creating the
// repository if it is missing.
func (m *Mutator) ensureRepo(ctx context.Context, client *gh.Client, repoName, seed string, log zerolog.Logger) (string, error) {
	repo, _, err := client.Repositories.Get(ctx, m.cfg.Owner, repoName)
	if err == nil {
		log.Debug().Msg("repository exists")
		return defaultBranch(repo), nil
	}
	if !isNotFound(err) {
		return "", err
	}

	org := ""
	if m.cfg.CreateInOrg {
		org = m.cfg.Owner
	}
	log.Info().Msg("creating repository")
	repo, _, err = client.Repositories.Create(ctx, org, &gh.Repository{
		Name:        gh.String(repoName),
		Description: gh.String("React app generated from prompt: " + seed),
		Private:     gh.Bool(false),
		AutoInit:    gh.Bool(true),
	})
	if err != nil {
		return "", err
	}
	return defaultBranch(repo), nil
}

// ensurePages enables GitHub Pages with the Actions build type. Failures are
// logged only: the deploy workflow configures Pages on its own.
func (m *Mutator) ensurePages(ctx context.Context, client *gh.Client, repoName string, log zerolog.Logger) {
	if _, _, err := client.Repositories.GetPagesInfo(ctx, m.cfg.Owner, repoName); err == nil {
		log.Debug().Msg("pages already enabled")
		return
	}
	_, _, err := client.Repositories.EnablePages(ctx, m.cfg.Owner, repoName, &gh.Pages{
		BuildType: gh.String("workflow"),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to enable pages")
		return
	}
	log.Info().Msg("pages enabled with workflow build")
}

// UpdateFile writes one file on the default branch, updating it in place
// when it already exists.
func (m *Mutator) UpdateFile(ctx context.Context, repoName, path, content, message string) (*UpdateInfo, error) {
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}
	log := m.logger.With().Str("repo", repoName).Str("path", path).Logger()

	fail := func(err error) (*UpdateInfo, error) {
		m.metrics.RecordRepoMutation("update_file", "error")
		log.Error().Err(err).Msg("file update failed")
		return nil, &perrors.FileUpdateError{Repo: repoName, Path: path, Err: err}
	}

	repo, _, err := client.Repositories.Get(ctx, m.cfg.Owner, repoName)
	if err != nil {
		return fail(err)
	}
	branch := defaultBranch(repo)

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: []byte(content),
		Branch:  gh.String(branch),
	}

	existing, _, _, err := client.Repositories.GetContents(ctx, m.cfg.Owner, repoName, path,
		&gh.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
	case err != nil && !isNotFound(err):
		return fail(err)
	}

	var res *gh.RepositoryContentResponse
	if opts.SHA != nil {
		res, _, err = client.Repositories.UpdateFile(ctx, m.cfg.Owner, repoName, path, opts)
	} else {
		log.Debug().Msg("file does not exist yet, creating it")
		res, _, err = client.Repositories.CreateFile(ctx, m.cfg.Owner, repoName, path, opts)
	}
	if err != nil {
		return fail(err)
	}

	sha := res.Commit.GetSHA()
	if sha == "" {
		return fail(errors.New("response carried no commit sha"))
	}

	m.setHead(repoName, sha)
	m.metrics.RecordRepoMutation("update_file", "ok")
	log.Info().Str("commit", sha).Msg("file updated")
	return &UpdateInfo{RepoInfo: m.Info(repoName), CommitSHA: sha}, nil
}

func (m *Mutator) setHead(repoName, sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads[repoName] = sha
}

func (m *Mutator) head(repoName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads[repoName]
}

// PollOnce reports the state of the most recent workflow run of repoName.
// When this Mutator committed to the repository, only runs for that commit
// count, so a finished run of an earlier commit reads as pending.
// Errors, including a missing credential, are logged and reported as failure.
func (m *Mutator) PollOnce(ctx context.Context, repoName string) deploy.Status {
	head := m.head(repoName)
	log := m.logger.With().Str("repo", repoName).Str("head", head).Logger()

	client, err := m.client(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("deployment status check failed")
		return deploy.StatusFailure
	}

	runs, _, err := client.Actions.ListRepositoryWorkflowRuns(ctx, m.cfg.Owner, repoName,
		&gh.ListWorkflowRunsOptions{HeadSHA: head, ListOptions: gh.ListOptions{PerPage: 1}})
	if err != nil {
		log.Warn().Err(err).Msg("deployment status check failed")
		return deploy.StatusFailure
	}
	if len(runs.WorkflowRuns) == 0 {
		return deploy.StatusPending
	}

	run := runs.WorkflowRuns[0]
	switch run.GetStatus() {
	case "queued", "in_progress", "waiting", "requested", "pending":
		return deploy.StatusPending
	}
	if run.GetConclusion() == "success" {
		return deploy.StatusSuccess
	}
	log.Debug().Str("status", run.GetStatus()).Str("conclusion", run.GetConclusion()).Msg("workflow run did not succeed")
	return deploy.StatusFailure
}

var _ deploy.Poller = (*Mutator)(nil)

func defaultBranch(repo *gh.Repository) string {
	if b := repo.GetDefaultBranch(); b != "" {
		return b
	}
	return "main"
}

func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
