package project

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/deploy"
	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/store"
)

// DefaultCollection is the collection name projects are stored under.
const DefaultCollection = "prompt-to-app-projects"

// Repository persists the project list as a single serialized collection.
// Every write reads the whole collection, applies one change and writes it
// back, all under one lock.
type Repository struct {
	coll   store.Collection
	name   string
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewRepository creates a Repository over coll. An empty name selects
// DefaultCollection.
func NewRepository(coll store.Collection, name string, logger zerolog.Logger) *Repository {
	if name == "" {
		name = DefaultCollection
	}
	return &Repository{
		coll:   coll,
		name:   name,
		logger: logger.With().Str("component", "project.repository").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) load(ctx context.Context) ([]*Project, error) {
	data, err := r.coll.Load(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var projects []*Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("decoding projects: %w", err)
	}
	for _, p := range projects {
		if p.Messages == nil {
			p.Messages = []Message{}
		}
		for i := range p.Messages {
			p.Messages[i].normalize()
		}
		if p.DeploymentStatus == "" {
			p.DeploymentStatus = deploy.StatusPending
		}
	}
	return projects, nil
}

func (r *Repository) save(ctx context.Context, projects []*Project) error {
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	if projects == nil {
		projects = []*Project{}
	}
	data, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("encoding projects: %w", err)
	}
	if err := r.coll.Save(ctx, r.name, data); err != nil {
		return fmt.Errorf("saving projects: %w", err)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
}

// List returns all projects, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

// Get returns the project with id.
func (r *Repository) Get(ctx context.Context, id string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, notFound(id)
}

// Create stores a new, empty project.
func (r *Repository) Create(ctx context.Context, name string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	p := &Project{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(name),
		CreatedAt:        now,
		UpdatedAt:        now,
		Messages:         []Message{},
		DeploymentStatus: deploy.StatusPending,
	}
	if p.Name == "" {
		p.Name = "New App"
	}

	if err := r.save(ctx, append(projects, p)); err != nil {
		return nil, err
	}
	r.logger.Info().Str("project", p.ID).Msg("project created")
	return p.clone(), nil
}

// Update applies fn to the stored project and saves it with a fresh
// UpdatedAt. When fn returns an error nothing is written.
func (r *Repository) Update(ctx context.Context, id string, fn func(*Project) error) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	var target *Project
	for _, p := range projects {
		if p.ID == id {
			target = p
			break
		}
	}
	if target == nil {
		return nil, notFound(id)
	}

	if err := fn(target); err != nil {
		return nil, err
	}
	target.ID = id
	target.UpdatedAt = r.now()

	if err := r.save(ctx, projects); err != nil {
		return nil, err
	}
	return target.clone(), nil
}

// Delete removes the project with id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.load(ctx)
	if err != nil {
		return err
	}

	kept := projects[:0]
	for _, p := range projects {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(projects) {
		return notFound(id)
	}

	if err := r.save(ctx, kept); err != nil {
		return err
	}
	r.logger.Info().Str("project", id).Msg("project deleted")
	return nil
}
