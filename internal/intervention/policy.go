// Package intervention decides whether the current turn's tutor prompt gets
// a directive about a student's repeated struggle.
//
// The policy reads counters synchronously on the request path, before the
// current message's background analysis has had a chance to run, so it only
// ever sees counts accumulated through the previous turn. When the message
// that crosses the threshold is the current one, the directive therefore
// first appears on the next turn. That one-turn lag is deliberate: it buys
// zero added latency on every turn.
package intervention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/store"
)

const policyReadTimeout = 2 * time.Second

const directiveTemplate = `The student has repeatedly struggled with the topic %q (%d struggle signals so far). Acknowledge that this concept has been difficult, then offer a short focused summary of it before answering. Be encouraging, not condescending.`

// Policy reads struggle state and produces intervention directives.
type Policy struct {
	repo      store.Repository
	threshold int
}

// NewPolicy creates an intervention policy with a configured positive
// threshold.
func NewPolicy(repo store.Repository, threshold int) *Policy {
	return &Policy{repo: repo, threshold: threshold}
}

// BuildDirective returns the instruction fragment to append to the tutor
// prompt, or ("", false) when no topic warrants intervention. With an empty
// topic it considers every topic on record and picks the one with the highest
// count above the threshold; the chat boundary does not carry a topic, so
// that is the common path. Store errors only delay the intervention by a
// turn, never fail the request.
func (p *Policy) BuildDirective(ctx context.Context, userID, topic string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, policyReadTimeout)
	defer cancel()

	counts, err := p.repo.GetCounts(ctx, userID)
	if err != nil {
		slog.Warn("intervention policy read failed, skipping directive",
			"error", err,
			"user_id", userID)
		return "", false
	}

	if topic != "" {
		topic = domain.NormalizeTopic(topic)
		if counts[topic] > p.threshold {
			return fmt.Sprintf(directiveTemplate, topic, counts[topic]), true
		}
		return "", false
	}

	// Highest count above threshold wins; ties break on topic name so the
	// choice is deterministic.
	bestTopic := ""
	bestCount := 0
	for t, c := range counts {
		if c <= p.threshold {
			continue
		}
		if c > bestCount || (c == bestCount && t < bestTopic) {
			bestTopic, bestCount = t, c
		}
	}
	if bestTopic == "" {
		return "", false
	}
	return fmt.Sprintf(directiveTemplate, bestTopic, bestCount), true
}
