// Package classifier invokes the external classification service over a
// student message and normalizes its output. Classify never returns an error:
// any transport failure, timeout, or malformed response degrades to the
// default non-struggling result, because occasional misses are acceptable.
package classifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/llm"
)

const classifySystemPrompt = `You analyze a single student message from a course tutoring chat and decide whether the student is struggling with a concept.

A student is struggling only when the message shows explicit confusion ("I don't understand", "this makes no sense"), repeated incorrect understanding, or frustration. A plain clarification question is NOT struggling.

Respond with a single JSON object and nothing else:
{"topic": "<concept the message concerns, empty string if unknown>", "isStruggling": <true|false>, "reason": "<one short sentence>"}`

// Gateway is the classification collaborator boundary.
type Gateway struct {
	completer     llm.Completer
	timeout       time.Duration
	historyWindow int
}

// NewGateway creates a classifier gateway. The timeout bounds the external
// call so a hung classifier cannot pile up background jobs.
func NewGateway(completer llm.Completer, timeout time.Duration, historyWindow int) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &Gateway{
		completer:     completer,
		timeout:       timeout,
		historyWindow: historyWindow,
	}
}

// Classify runs one best-effort classification attempt. No retries.
func (g *Gateway) Classify(ctx context.Context, message string, history []domain.ChatMessage) domain.ClassificationResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.completer.Complete(ctx, classifySystemPrompt, g.buildUserPrompt(message, history))
	if err != nil {
		slog.Warn("classifier call failed, using default result", "error", err)
		return domain.UnavailableClassification()
	}

	result, ok := parseResult(raw)
	if !ok {
		slog.Warn("classifier returned malformed output, using default result",
			"output_length", len(raw))
		return domain.UnavailableClassification()
	}
	return result
}

func (g *Gateway) buildUserPrompt(message string, history []domain.ChatMessage) string {
	var b strings.Builder

	recent := history
	if len(recent) > g.historyWindow {
		recent = recent[len(recent)-g.historyWindow:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range recent {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Student message to classify:\n")
	b.WriteString(message)
	return b.String()
}

// wireResult uses pointers so missing fields are distinguishable from
// zero values during schema validation.
type wireResult struct {
	Topic        *string `json:"topic"`
	IsStruggling *bool   `json:"isStruggling"`
	Reason       string  `json:"reason"`
}

// parseResult extracts the first JSON object from the completion text.
// Models occasionally wrap the object in code fences or prose.
func parseResult(raw string) (domain.ClassificationResult, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.ClassificationResult{}, false
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return domain.ClassificationResult{}, false
	}
	if wire.Topic == nil || wire.IsStruggling == nil {
		return domain.ClassificationResult{}, false
	}

	return domain.ClassificationResult{
		Topic:        domain.NormalizeTopic(*wire.Topic),
		IsStruggling: *wire.IsStruggling,
		Reason:       strings.TrimSpace(wire.Reason),
	}, true
}
