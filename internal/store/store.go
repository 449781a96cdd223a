// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/domain"
)

// ErrStoreUnavailable indicates that the backing persistence could not be
// reached. Callers must treat it as non-fatal: the background tracker aborts
// for that message and the chat turn is unaffected.
var ErrStoreUnavailable = errors.New("struggle store unavailable")

// Repository defines the interface for persisting student and struggle data.
type Repository interface {
	// GetCounts returns a point-in-time snapshot of a student's per-topic
	// struggle counters. Missing students yield an empty map.
	GetCounts(ctx context.Context, userID string) (map[string]int, error)

	// GetRecord returns the full struggle record (counts and states) for a
	// student. Missing students yield a record with empty maps.
	GetRecord(ctx context.Context, userID string) (*domain.StruggleRecord, error)

	// IncrementAndGetState atomically increments the struggle counter for
	// (userID, topic), recomputes the topic state against threshold, and
	// returns the new count plus the state before and after. Concurrent
	// callers for the same pair serialize at the database so no increment
	// is lost.
	IncrementAndGetState(ctx context.Context, userID, topic string, threshold int) (newCount int, prev, next domain.TopicState, err error)

	// ResetTopic zeroes the counter for (userID, topic) and returns the
	// state to Inactive. This is the only path that ever decrements.
	ResetTopic(ctx context.Context, userID, topic string) error

	// GetStudent retrieves a student by user ID. Returns nil if unknown.
	GetStudent(ctx context.Context, userID string) (*domain.Student, error)

	// UpsertStudent creates or refreshes a student's display name.
	UpsertStudent(ctx context.Context, student *domain.Student) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
