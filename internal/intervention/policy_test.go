package intervention

import (
	"context"
	"strings"
	"testing"

	"github.com/maziyardowlat/tlef-biocbot-sub004/internal/store"
)

// countsRepo is a read-only Repository stub for policy tests.
type countsRepo struct {
	store.Repository
	counts map[string]int
	err    error
}

func (r *countsRepo) GetCounts(ctx context.Context, userID string) (map[string]int, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.counts, nil
}

func TestBuildDirectiveExplicitTopic(t *testing.T) {
	cases := []struct {
		name  string
		count int
		want  bool
	}{
		{"below threshold", 2, false},
		{"at threshold", 3, false},
		{"above threshold", 4, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPolicy(&countsRepo{counts: map[string]int{"photosynthesis": tc.count}}, 3)

			directive, ok := p.BuildDirective(context.Background(), "u1", "photosynthesis")
			if ok != tc.want {
				t.Fatalf("count %d: expected ok=%v, got %v", tc.count, tc.want, ok)
			}
			if ok && !strings.Contains(directive, "photosynthesis") {
				t.Errorf("directive should name the topic, got %q", directive)
			}
		})
	}
}

func TestBuildDirectiveNormalizesTopic(t *testing.T) {
	p := NewPolicy(&countsRepo{counts: map[string]int{"photosynthesis": 5}}, 3)

	if _, ok := p.BuildDirective(context.Background(), "u1", "  Photosynthesis "); !ok {
		t.Error("expected directive for differently-cased topic")
	}
}

func TestBuildDirectiveScansAllTopics(t *testing.T) {
	p := NewPolicy(&countsRepo{counts: map[string]int{
		"osmosis":        2,
		"photosynthesis": 5,
		"mitosis":        4,
	}}, 3)

	directive, ok := p.BuildDirective(context.Background(), "u1", "")
	if !ok {
		t.Fatal("expected a directive")
	}
	if !strings.Contains(directive, "photosynthesis") {
		t.Errorf("expected highest-count topic photosynthesis, got %q", directive)
	}
}

func TestBuildDirectiveNoTopicOverThreshold(t *testing.T) {
	p := NewPolicy(&countsRepo{counts: map[string]int{"osmosis": 1, "mitosis": 3}}, 3)

	if directive, ok := p.BuildDirective(context.Background(), "u1", ""); ok {
		t.Errorf("expected no directive, got %q", directive)
	}
}

func TestBuildDirectiveStoreError(t *testing.T) {
	p := NewPolicy(&countsRepo{err: store.ErrStoreUnavailable}, 3)

	if directive, ok := p.BuildDirective(context.Background(), "u1", "photosynthesis"); ok {
		t.Errorf("store failure must skip directive, got %q", directive)
	}
}

// TestOneTurnLag pins the consistency model: the directive for turn k
// reflects counts through turn k-1 only. The repo here holds the counts as
// they were before the current turn's background analysis ran; a count that
// just reached threshold+1 in-flight is not visible yet.
func TestOneTurnLag(t *testing.T) {
	repo := &countsRepo{counts: map[string]int{"photosynthesis": 3}}
	p := NewPolicy(repo, 3)

	// Turn 4: the background analysis for this turn will push the count to
	// 4, but the policy read happens first and sees 3.
	if _, ok := p.BuildDirective(context.Background(), "u1", ""); ok {
		t.Error("turn that crosses the threshold must not itself get the directive")
	}

	// Turn 5: the previous turn's increment has landed.
	repo.counts["photosynthesis"] = 4
	if _, ok := p.BuildDirective(context.Background(), "u1", ""); !ok {
		t.Error("directive must appear on the turn after the threshold crossing")
	}
}
