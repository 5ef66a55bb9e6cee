package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/appforge/internal/errors"
	"github.com/p-blackswan/appforge/internal/project"
	"github.com/p-blackswan/appforge/internal/requestid"
)

// Projects is the project state machine as seen by the HTTP layer.
type Projects interface {
	Create(ctx context.Context, name string) (*project.Project, error)
	Get(ctx context.Context, id string) (*project.Project, error)
	List(ctx context.Context) ([]*project.Project, error)
	Submit(ctx context.Context, id, text string) (*project.Project, error)
	Open(ctx context.Context, id string) (*project.Project, error)
	Delete(ctx context.Context, id string) error
	Busy(id string) bool
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	projects Projects
	logger   zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(projects Projects, logger zerolog.Logger) *Handlers {
	return &Handlers{
		projects: projects,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

func (h *Handlers) view(p *project.Project) ProjectResponse {
	return ProjectResponse{Project: p, Busy: h.projects.Busy(p.ID)}
}

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var req CreateProjectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Invalid request body: "+err.Error())
		}
	}

	ctx := c.UserContext()
	p, err := h.projects.Create(ctx, req.Name)
	if err != nil {
		return h.problemFromError(c, err)
	}

	if strings.TrimSpace(req.Prompt) != "" {
		requestid.Logger(ctx, h.logger).Info().Str("project", p.ID).Msg("initial request submitted")
		p, err = h.projects.Submit(ctx, p.ID, req.Prompt)
		if err != nil {
			return h.problemFromError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(h.view(p))
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	projects, err := h.projects.List(c.UserContext())
	if err != nil {
		return h.problemFromError(c, err)
	}
	resp := ProjectListResponse{Projects: make([]ProjectResponse, 0, len(projects)), Total: len(projects)}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, h.view(p))
	}
	return c.JSON(resp)
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.projects.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.problemFromError(c, err)
	}
	return c.JSON(h.view(p))
}

// SubmitMessage handles POST /api/v1/projects/:id/messages.
func (h *Handlers) SubmitMessage(c *fiber.Ctx) error {
	var req SubmitMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_content", "Bad Request",
			"Field 'content' is required")
	}

	ctx := c.UserContext()
	id := c.Params("id")
	requestid.Logger(ctx, h.logger).Info().Str("project", id).Msg("message submitted")

	p, err := h.projects.Submit(ctx, id, req.Content)
	if err != nil {
		return h.problemFromError(c, err)
	}
	return c.JSON(h.view(p))
}

// OpenProject handles POST /api/v1/projects/:id/open.
func (h *Handlers) OpenProject(c *fiber.Ctx) error {
	p, err := h.projects.Open(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.problemFromError(c, err)
	}
	return c.JSON(h.view(p))
}

// DeleteProject handles DELETE /api/v1/projects/:id.
func (h *Handlers) DeleteProject(c *fiber.Ctx) error {
	if err := h.projects.Delete(c.UserContext(), c.Params("id")); err != nil {
		return h.problemFromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// problemFromError maps service errors onto problem responses.
func (h *Handlers) problemFromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, perrors.ErrBusy):
		return problemResponse(c, fiber.StatusConflict, "busy", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	}
	return err
}
