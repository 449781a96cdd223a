// Package tutor assembles the tutoring prompt and calls the completion
// collaborator that produces the student-facing reply. Retrieval and ranking
// of course material happen upstream and are not this package's concern.
package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/llm"
)

const baseSystemPrompt = `You are BiocBot, a patient course tutor. Answer the student's question clearly and at an introductory level. Keep answers short, concrete, and grounded in the course material the student is asking about. If the student seems lost, break the concept into smaller steps.`

// TurnRequest carries one chat turn's inputs into the tutor.
type TurnRequest struct {
	StudentName string
	Message     string
	History     []domain.ChatMessage
	// Directive is the optional intervention fragment appended to the
	// system prompt when the student has repeatedly struggled with a topic.
	Directive string
}

// Service produces student-facing replies.
type Service struct {
	completer     llm.Completer
	historyWindow int
}

// NewService creates a tutor service.
func NewService(completer llm.Completer, historyWindow int) *Service {
	if historyWindow <= 0 {
		historyWindow = 12
	}
	return &Service{completer: completer, historyWindow: historyWindow}
}

// Reply runs the tutor completion for one turn.
func (s *Service) Reply(ctx context.Context, req TurnRequest) (string, error) {
	system := baseSystemPrompt
	if req.Directive != "" {
		system += "\n\n" + req.Directive
	}

	reply, err := s.completer.Complete(ctx, system, s.buildUserPrompt(req))
	if err != nil {
		return "", fmt.Errorf("tutor completion: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

func (s *Service) buildUserPrompt(req TurnRequest) string {
	var b strings.Builder

	recent := req.History
	if len(recent) > s.historyWindow {
		recent = recent[len(recent)-s.historyWindow:]
	}
	for _, m := range recent {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	if req.StudentName != "" {
		b.WriteString("student (")
		b.WriteString(req.StudentName)
		b.WriteString("): ")
	} else {
		b.WriteString("student: ")
	}
	b.WriteString(req.Message)
	return b.String()
}
