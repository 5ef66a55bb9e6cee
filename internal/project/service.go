package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/classify"
	"github.com/p-blackswan/appforge/internal/deploy"
	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/github"
	"github.com/p-blackswan/appforge/internal/metrics"
	"github.com/p-blackswan/appforge/internal/notify"
	"github.com/p-blackswan/appforge/internal/synth"
)

// Transcript texts.
const (
	validatingText = "Validating your request..."
	processingText = "Processing your edit request..."
	createdText    = "Created app based on your prompt. Deployment URL: %s"
	updatedText    = "Updated app based on your request. Deployment in progress..."
)

const (
	modeInit = "init"
	modeEdit = "edit"
)

// Classifier gates submissions.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) (*classify.Result, error)
}

// Synthesizer produces validated source for a task.
type Synthesizer interface {
	Synthesize(ctx context.Context, task synth.Task) (string, error)
}

// Mutator commits source to the project's repository.
type Mutator interface {
	CreateOrUpdate(ctx context.Context, source, seed string) (*github.RepoInfo, error)
	UpdateFile(ctx context.Context, repoName, path, content, message string) (*github.UpdateInfo, error)
}

// PollScheduler runs one deployment poll loop per project.
type PollScheduler interface {
	Start(key, repoName string, onDone deploy.DoneFunc)
	Stop(key string)
	StopOthers(key string)
	StopAll()
	Running(key string) bool
}

// Notifier is told about terminal deployment outcomes.
type Notifier interface {
	DeploymentFinished(ctx context.Context, d notify.Deployment) error
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the deployment notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is the project state machine. At most one submission runs per
// project at a time; the rest are rejected with ErrBusy.
type Service struct {
	repo       *Repository
	classifier Classifier
	synth      Synthesizer
	mutator    Mutator
	polls      PollScheduler
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService wires the pipeline collaborators together.
func NewService(repo *Repository, c Classifier, sy Synthesizer, m Mutator, polls PollScheduler, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		classifier: c,
		synth:      sy,
		mutator:    m,
		polls:      polls,
		notifier:   notify.Nop{},
		logger:     logger.With().Str("component", "project").Logger(),
		inflight:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a new empty project.
func (s *Service) Create(ctx context.Context, name string) (*Project, error) {
	return s.repo.Create(ctx, name)
}

// Get returns a project.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	return s.repo.Get(ctx, id)
}

// List returns all projects, most recently updated first.
func (s *Service) List(ctx context.Context) ([]*Project, error) {
	return s.repo.List(ctx)
}

// Busy reports whether a submission is running for id.
func (s *Service) Busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// Open makes id the active project: polling for every other project stops
// and polling for id resumes if its deployment is still pending.
func (s *Service) Open(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.polls.StopOthers(id)
	s.ensurePolling(p, false)
	return p, nil
}

// Delete stops polling for id and removes it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !s.acquire(id) {
		return perrors.ErrBusy
	}
	defer s.release(id)

	s.polls.Stop(id)
	return s.repo.Delete(ctx, id)
}

// Close stops every poll loop.
func (s *Service) Close() {
	s.polls.StopAll()
}

// Submit runs one chat turn for project id. Projects that already have a
// repository and generated code take the edit path, all others the initial
// request path. Pipeline failures are recorded in the transcript and do not
// surface as errors.
func (s *Service) Submit(ctx context.Context, id, text string) (*Project, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("submission text is empty: %w", perrors.ErrInvalidInput)
	}
	if !s.acquire(id) {
		return nil, perrors.ErrBusy
	}

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		s.release(id)
		return nil, err
	}
	s.polls.StopOthers(id)

	var mutated bool
	if p.IsEdit() {
		p, mutated, err = s.submitEdit(ctx, id, text)
	} else {
		p, mutated, err = s.submitInitialRequest(ctx, id, text)
	}
	s.release(id)

	if p != nil {
		s.ensurePolling(p, mutated)
	}
	return p, err
}

// submitInitialRequest classifies text and, when feasible, generates the
// app and creates its repository. The caller holds the project slot.
func (s *Service) submitInitialRequest(ctx context.Context, id, text string) (*Project, bool, error) {
	start := time.Now()
	log := s.logger.With().Str("project", id).Str("mode", modeInit).Logger()

	interim := NewAssistantMessage(validatingText)
	p, err := s.repo.Update(ctx, id, func(p *Project) error {
		p.appendMessages(NewUserMessage(text), interim)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	seed := p.Seed()

	result, err := s.classifier.Classify(ctx, classify.Request{Text: text})
	if err != nil {
		return s.fail(ctx, id, interim.ID, modeInit, nil, start, err)
	}
	vs := validationFrom(result)
	s.metrics.RecordClassification(modeInit, string(result.Verdict))

	if !result.Feasible() {
		log.Info().Str("verdict", string(result.Verdict)).Msg("request rejected")
		p, err = s.repo.Update(ctx, id, func(p *Project) error {
			p.removeMessage(interim.ID)
			p.appendMessages(NewAssistantMessage(result.Rationale))
			p.ValidationStatus = vs
			if p.RepoInfo == nil {
				p.DeploymentStatus = deploy.StatusFailure
			}
			return nil
		})
		s.finish(modeInit, "rejected", start)
		return p, false, err
	}

	code, err := s.synth.Synthesize(ctx, synth.InitTask{RequestText: text})
	if err != nil {
		return s.fail(ctx, id, interim.ID, modeInit, vs, start, err)
	}

	info, err := s.mutator.CreateOrUpdate(ctx, code, seed)
	if err != nil {
		return s.fail(ctx, id, interim.ID, modeInit, vs, start, err)
	}

	p, err = s.repo.Update(ctx, id, func(p *Project) error {
		p.removeMessage(interim.ID)
		if result.Rationale != "" {
			p.appendMessages(NewAssistantMessage(result.Rationale))
		}
		p.appendMessages(NewAssistantMessage(fmt.Sprintf(createdText, info.DeploymentURL)))
		p.GeneratedCode = code
		p.RepoInfo = info
		p.DeploymentStatus = deploy.StatusPending
		p.ValidationStatus = vs
		p.Name = result.SuggestedName
		if p.Name == "" {
			p.Name = "App: " + truncate(text, 30)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	log.Info().Str("repo", info.RepoName).Dur("elapsed", time.Since(start)).Msg("app created")
	s.finish(modeInit, "created", start)
	return p, true, nil
}

// submitEdit classifies an edit against the current code and, when
// feasible, regenerates the app and commits it as a single-file update.
// The caller holds the project slot.
func (s *Service) submitEdit(ctx context.Context, id, text string) (*Project, bool, error) {
	start := time.Now()
	log := s.logger.With().Str("project", id).Str("mode", modeEdit).Logger()

	interim := NewAssistantMessage(processingText)
	p, err := s.repo.Update(ctx, id, func(p *Project) error {
		if !p.IsEdit() {
			return fmt.Errorf("project %s has no app to edit: %w", id, perrors.ErrInvalidInput)
		}
		p.appendMessages(NewUserMessage(text), interim)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	existing, repoName := p.GeneratedCode, p.RepoInfo.RepoName

	result, err := s.classifier.Classify(ctx, classify.Request{CurrentCode: existing, Text: text})
	if err != nil {
		return s.fail(ctx, id, interim.ID, modeEdit, nil, start, err)
	}
	vs := validationFrom(result)
	s.metrics.RecordClassification(modeEdit, string(result.Verdict))

	if !result.Feasible() {
		log.Info().Str("verdict", string(result.Verdict)).Msg("edit rejected")
		p, err = s.repo.Update(ctx, id, func(p *Project) error {
			p.removeMessage(interim.ID)
			p.appendMessages(NewAssistantMessage(result.Rationale))
			p.ValidationStatus = vs
			return nil
		})
		s.finish(modeEdit, "rejected", start)
		return p, false, err
	}

	code, err := s.synth.Synthesize(ctx, synth.EditTask{ExistingCode: existing, EditText: text})
	if err != nil {
		return s.fail(ctx, id, interim.ID, modeEdit, vs, start, err)
	}

	upd, err := s.mutator.UpdateFile(ctx, repoName, github.AppSourcePath, code, "Edit: "+truncate(text, 50))
	if err != nil {
		return s.fail(ctx, id, interim.ID, modeEdit, vs, start, err)
	}

	p, err = s.repo.Update(ctx, id, func(p *Project) error {
		p.removeMessage(interim.ID)
		p.appendMessages(NewAssistantMessage(updatedText))
		p.GeneratedCode = code
		p.DeploymentStatus = deploy.StatusPending
		p.ValidationStatus = vs
		if result.SuggestedName != "" {
			p.Name = result.SuggestedName
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	log.Info().Str("repo", repoName).Str("commit", upd.CommitSHA).Dur("elapsed", time.Since(start)).Msg("app updated")
	s.finish(modeEdit, "updated", start)
	return p, true, nil
}

// fail records err in the transcript. Code and repository linkage are left
// as they were.
func (s *Service) fail(ctx context.Context, id, interimID, mode string, vs *ValidationStatus, start time.Time, cause error) (*Project, bool, error) {
	s.logger.Error().Err(cause).Str("project", id).Str("mode", mode).Msg("submission failed")
	s.metrics.RecordError("project", errorType(cause))
	s.finish(mode, "error", start)

	p, err := s.repo.Update(context.WithoutCancel(ctx), id, func(p *Project) error {
		p.removeMessage(interimID)
		p.appendMessages(NewAssistantMessage(perrors.UserMessage(cause)))
		if vs != nil {
			p.ValidationStatus = vs
		}
		if mode == modeInit && p.RepoInfo == nil {
			p.DeploymentStatus = deploy.StatusFailure
		}
		return nil
	})
	return p, false, err
}

func (s *Service) finish(mode, outcome string, start time.Time) {
	s.metrics.RecordSubmission(mode, outcome)
	s.metrics.ObserveDuration(mode, time.Since(start).Seconds())
}

// ensurePolling starts the poll loop for p when its deployment is pending.
// restart replaces a loop that is already running.
func (s *Service) ensurePolling(p *Project, restart bool) {
	if !p.Polling() {
		return
	}
	if !restart && s.polls.Running(p.ID) {
		return
	}
	s.polls.Start(p.ID, p.RepoInfo.RepoName, s.onDeployDone(p.ID, p.RepoInfo.RepoName))
}

var errStale = errors.New("stale deployment result")

// onDeployDone records a terminal deployment status. Results are dropped
// while a submission is running for the project, or when the project no
// longer waits on repoName.
func (s *Service) onDeployDone(id, repoName string) deploy.DoneFunc {
	return func(ctx context.Context, status deploy.Status) {
		log := s.logger.With().Str("project", id).Str("repo", repoName).Logger()

		s.mu.Lock()
		if _, busy := s.inflight[id]; busy {
			s.mu.Unlock()
			log.Debug().Str("status", string(status)).Msg("submission in flight, deployment result dropped")
			return
		}
		p, err := s.repo.Update(ctx, id, func(p *Project) error {
			if p.RepoInfo == nil || p.RepoInfo.RepoName != repoName || p.DeploymentStatus != deploy.StatusPending {
				return errStale
			}
			p.DeploymentStatus = status
			return nil
		})
		s.mu.Unlock()

		if err != nil {
			log.Debug().Err(err).Msg("deployment result not recorded")
			return
		}
		log.Info().Str("status", string(status)).Msg("deployment finished")

		err = s.notifier.DeploymentFinished(ctx, notify.Deployment{
			ProjectID:     p.ID,
			ProjectName:   p.Name,
			RepoName:      p.RepoInfo.RepoName,
			RepoURL:       p.RepoInfo.RepoURL,
			DeploymentURL: p.RepoInfo.DeploymentURL,
			Status:        status,
		})
		if err != nil {
			log.Warn().Err(err).Msg("deployment notification failed")
		}
	}
}

func validationFrom(r *classify.Result) *ValidationStatus {
	return &ValidationStatus{
		Status:      ValidationState(r.Verdict),
		Description: r.Rationale,
		Name:        r.SuggestedName,
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, perrors.ErrConfiguration):
		return "configuration"
	case errors.Is(err, perrors.ErrClassification):
		return "classification"
	case errors.Is(err, perrors.ErrGenerationExhausted):
		return "exhausted"
	case errors.Is(err, perrors.ErrExtraction):
		return "extraction"
	case errors.Is(err, perrors.ErrRepoMutation):
		return "repo_mutation"
	case errors.Is(err, perrors.ErrFileUpdate):
		return "file_update"
	}
	return "other"
}
