// Package errors provides the typed failure taxonomy of the generation pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrClassification      = errors.New("classification failed")
	ErrExtraction          = errors.New("could not extract code from LLM response")
	ErrSyntaxValidation    = errors.New("syntax validation failed")
	ErrGenerationExhausted = errors.New("generation attempts exhausted")
	ErrRepoMutation        = errors.New("repository mutation failed")
	ErrFileUpdate          = errors.New("file update failed")
	ErrBusy                = errors.New("a request is already in progress for this project")
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// ExhaustedMessage is the user-facing text shown when every synthesis attempt failed validation.
const ExhaustedMessage = "Failed to generate valid TypeScript code after multiple attempts. Please try rephrasing your request."

// ConfigurationError reports a missing or unusable setting, typically a credential.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is not configured", e.Setting)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a ConfigurationError for the named setting.
func NewConfigurationError(setting, message string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Message: message}
}

// APIError represents an error response from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// ClassificationError wraps any collaborator failure during request classification.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func (e *ClassificationError) Is(target error) bool { return target == ErrClassification }

// ExtractionError means a generation response carried no usable source text.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	if e.Reason == "" {
		return ErrExtraction.Error()
	}
	return fmt.Sprintf("%s: %s", ErrExtraction.Error(), e.Reason)
}

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// Diagnostic is a single syntactic problem found in generated source.
// Line and Column are 1-based.
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("Line %d, Col %d: %s", d.Line, d.Column, d.Message)
	}
	return d.Message
}

// SyntaxValidationError carries the parse diagnostics of rejected source.
type SyntaxValidationError struct {
	Diagnostics []Diagnostic
}

func (e *SyntaxValidationError) Error() string {
	lines := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		lines = append(lines, d.String())
	}
	return fmt.Sprintf("TypeScript code validation failed with %d syntax errors:\n%s",
		len(e.Diagnostics), strings.Join(lines, "\n"))
}

func (e *SyntaxValidationError) Is(target error) bool { return target == ErrSyntaxValidation }

// GenerationExhaustedError is returned once the attempt budget is spent on invalid source.
type GenerationExhaustedError struct {
	Attempts int
	Last     *SyntaxValidationError
}

func (e *GenerationExhaustedError) Error() string { return ExhaustedMessage }

func (e *GenerationExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

func (e *GenerationExhaustedError) Is(target error) bool { return target == ErrGenerationExhausted }

// RepoMutationError wraps a hosting-side failure while committing a repository.
type RepoMutationError struct {
	Repo string
	Op   string
	Err  error
}

func (e *RepoMutationError) Error() string {
	return fmt.Sprintf("GitHub operation failed: %s %s: %v", e.Op, e.Repo, e.Err)
}

func (e *RepoMutationError) Unwrap() error { return e.Err }

func (e *RepoMutationError) Is(target error) bool { return target == ErrRepoMutation }

// FileUpdateError wraps a hosting-side failure during a single-file update.
type FileUpdateError struct {
	Repo string
	Path string
	Err  error
}

func (e *FileUpdateError) Error() string {
	return fmt.Sprintf("Failed to update file %s in %s: %v", e.Path, e.Repo, e.Err)
}

func (e *FileUpdateError) Unwrap() error { return e.Err }

func (e *FileUpdateError) Is(target error) bool { return target == ErrFileUpdate }

// IsRetryable reports whether a synthesis attempt may be repeated after err.
// Only syntactic validation failures qualify.
func IsRetryable(err error) bool {
	var syn *SyntaxValidationError
	return errors.As(err, &syn)
}

// UserMessage renders a pipeline error as transcript text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrGenerationExhausted) {
		return ExhaustedMessage
	}
	return "Error: " + err.Error()
}
