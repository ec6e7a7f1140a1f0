package ports

import (
	"context"

	"github.com/aretw0/easel/pkg/domain"
)

// ChatMessage is one message of a generation prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest carries the prompt for one program generation attempt.
type GenerateRequest struct {
	Model    string
	Language string
	Messages []ChatMessage
}

// ProgramGenerator produces agent replies that may contain a transformation program.
type ProgramGenerator interface {
	// Generate returns the full reply text. onDelta, if not nil, receives
	// text fragments as they are produced.
	Generate(ctx context.Context, req GenerateRequest, onDelta func(string)) (string, error)
}

// SystemRole, UserRole and AssistantRole are the roles used in ChatMessage.
const (
	SystemRole    = "system"
	UserRole      = string(domain.RoleUser)
	AssistantRole = string(domain.RoleAssistant)
)
