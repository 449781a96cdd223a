// Package tracker runs the background struggle analysis for each incoming
// student message. Jobs are dispatched fire-and-forget: the chat request path
// never waits on a job, and no ordering is guaranteed between the tutor reply
// reaching the student and the counters being updated for that message. The
// counters a job writes become visible to the intervention policy on the
// following turn.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/store"
)

// Classifier produces a normalized classification for a student message.
type Classifier interface {
	Classify(ctx context.Context, message string, history []domain.ChatMessage) domain.ClassificationResult
}

// Notifier broadcasts state transitions to course-scoped listeners.
type Notifier interface {
	Publish(courseID string, event domain.StateChangeEvent)
}

// Job carries everything one background analysis needs.
type Job struct {
	UserID      string
	CourseID    string
	DisplayName string
	Message     string
	History     []domain.ChatMessage
}

// Agent orchestrates one analysis job per message: classify, atomically
// increment the struggle counter, and publish if the topic state flipped.
type Agent struct {
	classifier Classifier
	repo       store.Repository
	notifier   Notifier
	threshold  int
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewAgent creates a tracker agent. The timeout bounds each background job
// (classifier call plus store write) so hung jobs cannot accumulate.
func NewAgent(classifier Classifier, repo store.Repository, notifier Notifier, threshold int, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Agent{
		classifier: classifier,
		repo:       repo,
		notifier:   notifier,
		threshold:  threshold,
		timeout:    timeout,
	}
}

// Schedule dispatches an analysis job on its own goroutine and returns
// immediately. The job uses a detached context: the HTTP request that
// scheduled it may finish first, and nothing waits on the result.
func (a *Agent) Schedule(job Job) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.Analyze(ctx, job)
	}()
}

// Analyze runs one job synchronously. Failures are logged and swallowed;
// nothing here may reach the student-facing response.
func (a *Agent) Analyze(ctx context.Context, job Job) {
	result := a.classifier.Classify(ctx, job.Message, job.History)
	if !result.IsStruggling || result.Topic == "" {
		return
	}

	// Counter rows are keyed by the normalized topic; events carry the same
	// key so dashboards can correlate with the struggles endpoint.
	topic := domain.NormalizeTopic(result.Topic)

	slog.Info("struggle detected",
		"user_id", job.UserID,
		"course_id", job.CourseID,
		"topic", topic,
		"reason", result.Reason)

	count, prev, next, err := a.repo.IncrementAndGetState(ctx, job.UserID, topic, a.threshold)
	if err != nil {
		slog.Error("struggle count update failed, dropping analysis",
			"error", err,
			"user_id", job.UserID,
			"topic", topic)
		return
	}

	if prev == next {
		return
	}

	slog.Info("struggle state changed",
		"user_id", job.UserID,
		"topic", topic,
		"count", count,
		"from", prev,
		"to", next)

	a.notifier.Publish(job.CourseID, domain.StateChangeEvent{
		EventID:            uuid.NewString(),
		CourseID:           job.CourseID,
		UserID:             job.UserID,
		StudentDisplayName: job.DisplayName,
		Topic:              topic,
		State:              next,
		Timestamp:          time.Now().UTC(),
	})
}

// Drain waits for in-flight jobs to finish, up to the context deadline.
// Used during graceful shutdown.
func (a *Agent) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all scheduled jobs have completed. Test helper.
func (a *Agent) Wait() {
	a.wg.Wait()
}
