// Package project holds the project aggregate and the state machine that
// drives a submission through classification, synthesis, repository
// mutation and deployment polling.
package project

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/appforge/internal/deploy"
	"github.com/p-blackswan/appforge/internal/github"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. IsUser and Role always agree.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
}

// NewUserMessage creates a user-authored message.
func NewUserMessage(content string) Message {
	return newMessage(content, true)
}

// NewAssistantMessage creates an assistant-authored message.
func NewAssistantMessage(content string) Message {
	return newMessage(content, false)
}

func newMessage(content string, isUser bool) Message {
	m := Message{
		ID:        uuid.NewString(),
		Content:   content,
		IsUser:    isUser,
		Timestamp: time.Now().UTC(),
	}
	m.normalize()
	return m
}

// normalize derives Role from IsUser.
func (m *Message) normalize() {
	if m.IsUser {
		m.Role = RoleUser
	} else {
		m.Role = RoleAssistant
	}
}

// ValidationState is the status field of a classification outcome.
type ValidationState string

const (
	ValidationPending       ValidationState = "pending"
	ValidationFeasible      ValidationState = "feasible"
	ValidationTooComplex    ValidationState = "too-complex"
	ValidationInappropriate ValidationState = "inappropriate"
	ValidationIrrelevant    ValidationState = "irrelevant"
)

// ValidationStatus records the most recent classification of a project.
type ValidationStatus struct {
	Status      ValidationState `json:"status"`
	Description string          `json:"description"`
	Name        string          `json:"name,omitempty"`
}

// Project is the aggregate root persisted by the Repository.
type Project struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Messages         []Message         `json:"messages"`
	GeneratedCode    string            `json:"generated_code"`
	RepoInfo         *github.RepoInfo  `json:"repo_info"`
	DeploymentStatus deploy.Status     `json:"deployment_status"`
	ValidationStatus *ValidationStatus `json:"validation_status"`
}

// IsEdit reports whether the next submission takes the edit path.
func (p *Project) IsEdit() bool {
	return p.RepoInfo != nil && p.GeneratedCode != ""
}

// Seed is the suffix of the project's repository name.
func (p *Project) Seed() string {
	s := strings.ReplaceAll(p.ID, "-", "")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// Polling reports whether the deployment loop should be running.
func (p *Project) Polling() bool {
	return p.RepoInfo != nil && p.DeploymentStatus == deploy.StatusPending
}

func (p *Project) appendMessages(msgs ...Message) {
	p.Messages = append(p.Messages, msgs...)
}

func (p *Project) removeMessage(id string) {
	kept := p.Messages[:0]
	for _, m := range p.Messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	p.Messages = kept
}

func (p *Project) clone() *Project {
	c := *p
	c.Messages = append(make([]Message, 0, len(p.Messages)), p.Messages...)
	if p.RepoInfo != nil {
		ri := *p.RepoInfo
		c.RepoInfo = &ri
	}
	if p.ValidationStatus != nil {
		vs := *p.ValidationStatus
		c.ValidationStatus = &vs
	}
	return &c
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
