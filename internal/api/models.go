// Package api serves the project surface consumed by the chat UI.
package api

import (
	"github.com/p-blackswan/appforge/internal/project"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// CreateProjectRequest is the body of POST /api/v1/projects. A non-empty
// Prompt is submitted as the initial request.
type CreateProjectRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// SubmitMessageRequest is the body of POST /api/v1/projects/:id/messages.
type SubmitMessageRequest struct {
	Content string `json:"content"`
}

// ProjectResponse is a project plus whether a submission is running for it.
type ProjectResponse struct {
	*project.Project
	Busy bool `json:"busy"`
}

// ProjectListResponse is the body of GET /api/v1/projects.
type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
	Total    int               `json:"total"`
}
