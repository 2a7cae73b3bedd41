// ABOUTME: Tests for windowed project drift
// ABOUTME: Covers window skipping, cosine drift between retained windows, and missing prerequisites
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/models"
)

const day = 24 * time.Hour

type driftScenario struct {
	f         *fixture
	project   *models.Project
	segRunID  string
	topicSegs map[string][]string
	convs     map[string][]string
	n         int
}

func newDriftScenario(t *testing.T) *driftScenario {
	t.Helper()
	f := newFixture(t)
	project := &models.Project{ID: uuid.New().String(), Name: "Home", Key: "home", CreatedAt: time.Now().UTC()}
	if err := f.store.Projects.Create(context.Background(), project); err != nil {
		t.Fatalf("Projects.Create() error = %v", err)
	}
	return &driftScenario{
		f:         f,
		project:   project,
		segRunID:  f.startRun(t, models.RunSegmentation).ID,
		topicSegs: map[string][]string{},
		convs:     map[string][]string{},
	}
}

// add stores a one-segment conversation about topic, assigned to the project
func (s *driftScenario) add(t *testing.T, topic string, at time.Time) {
	t.Helper()
	s.n++
	conv := s.f.addConversation(t, at, fmt.Sprintf("%s entry%d", topicText(topic, s.n, 6), s.n))
	segs := s.f.addSegments(t, s.segRunID, conv, topicText(topic, s.n, 8))
	s.topicSegs[topic] = append(s.topicSegs[topic], segs...)
	s.convs[topic] = append(s.convs[topic], conv)
	err := s.f.store.Projects.Assign(context.Background(), &models.ProjectAssignment{
		ID:             uuid.New().String(),
		ProjectID:      s.project.ID,
		ConversationID: conv,
		AssignedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Projects.Assign() error = %v", err)
	}
}

// cluster records a completed clustering run with one suggestion per topic
func (s *driftScenario) cluster(t *testing.T, topics ...string) map[string]string {
	t.Helper()
	run := s.f.startRun(t, models.RunClustering)
	ids := map[string]string{}
	for i, topic := range topics {
		sg := s.f.addSuggestion(t, run.ID, i, s.convs[topic], s.topicSegs[topic])
		ids[topic] = sg.ID
	}
	if err := run.Complete(context.Background(), nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	return ids
}

func testDriftConfig() DriftConfig {
	return DriftConfig{Window: 30 * day, Lookback: 120 * day, MinConversations: 2}
}

func TestDriftBetweenRetainedWindows(t *testing.T) {
	ctx := context.Background()
	asOf := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	s := newDriftScenario(t)
	for i := 0; i < 3; i++ {
		s.add(t, "garden", asOf.Add(-100*day))
		s.add(t, "golang", asOf.Add(-75*day))
	}
	s.add(t, "garden", asOf.Add(-45*day)) // alone in its window
	s.add(t, "garden", asOf.Add(-10*day))
	s.add(t, "garden", asOf.Add(-9*day))
	s.add(t, "golang", asOf.Add(-8*day))
	s.add(t, "golang", asOf.Add(-200*day)) // before the lookback
	topicIDs := s.cluster(t, "garden", "golang")

	engine := NewDriftEngine(s.f.store, s.f.tracker, testDriftConfig(), nil, nil)
	result, err := engine.Compute(ctx, s.project.ID, asOf)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.Conversations != 11 {
		t.Errorf("Conversations = %d, want 11", result.Conversations)
	}
	if result.Unwindowed != 1 {
		t.Errorf("Unwindowed = %d, want 1", result.Unwindowed)
	}
	if result.Windows != 4 || result.Retained != 3 || result.Skipped != 1 {
		t.Errorf("windows = %d total, %d retained, %d skipped; want 4, 3, 1", result.Windows, result.Retained, result.Skipped)
	}
	if len(result.Metrics) != 2 {
		t.Fatalf("len(Metrics) = %d, want 2", len(result.Metrics))
	}

	first := result.Metrics[0]
	if !first.WindowStart.Equal(asOf.Add(-90*day)) || !first.WindowEnd.Equal(asOf.Add(-60*day)) {
		t.Errorf("first window = %v..%v, want 90..60 days back", first.WindowStart, first.WindowEnd)
	}
	if first.ConversationCount != 3 {
		t.Errorf("first ConversationCount = %d, want 3", first.ConversationCount)
	}
	if !approx(first.DriftScore, 1) {
		t.Errorf("first DriftScore = %v, want 1", first.DriftScore)
	}
	if len(first.Deltas) != 2 {
		t.Fatalf("first window has %d deltas, want 2", len(first.Deltas))
	}
	for _, d := range first.Deltas {
		if !approx(math.Abs(d.Change), 1) {
			t.Errorf("delta %s Change = %v, want magnitude 1", d.Topic, d.Change)
		}
	}

	second := result.Metrics[1]
	if !second.WindowStart.Equal(asOf.Add(-30*day)) || !second.WindowEnd.Equal(asOf) {
		t.Errorf("second window = %v..%v, want the last 30 days", second.WindowStart, second.WindowEnd)
	}
	if second.ConversationCount != 3 {
		t.Errorf("second ConversationCount = %d, want 3", second.ConversationCount)
	}
	if want := 1 - 1/math.Sqrt(5); !approx(second.DriftScore, want) {
		t.Errorf("second DriftScore = %v, want %v", second.DriftScore, want)
	}
	byTopic := map[string]models.TopicDelta{}
	for _, d := range second.Deltas {
		byTopic[d.Topic] = d
	}
	if got := byTopic[topicIDs["garden"]].Change; !approx(got, 2.0/3) {
		t.Errorf("garden Change = %v, want 2/3", got)
	}
	if got := byTopic[topicIDs["golang"]].Change; !approx(got, -2.0/3) {
		t.Errorf("golang Change = %v, want -2/3", got)
	}

	stored, err := s.f.store.Drift.ListByProject(ctx, s.project.ID, result.RunID)
	if err != nil {
		t.Fatalf("ListByProject() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored %d metrics, want 2", len(stored))
	}

	run, err := s.f.store.Runs.Get(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Runs.Get() error = %v", err)
	}
	if run.Status != models.RunCompleted {
		t.Errorf("run Status = %v, want Completed", run.Status)
	}
	if run.Scope != s.project.ID {
		t.Errorf("run Scope = %q, want %q", run.Scope, s.project.ID)
	}
}

func TestDriftSkipsWindowsWithoutTopics(t *testing.T) {
	ctx := context.Background()
	asOf := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	s := newDriftScenario(t)
	s.add(t, "garden", asOf.Add(-5*day))
	s.add(t, "garden", asOf.Add(-6*day))
	s.cluster(t, "golang") // no topic covers the garden conversations

	engine := NewDriftEngine(s.f.store, s.f.tracker, testDriftConfig(), nil, nil)
	result, err := engine.Compute(ctx, s.project.ID, asOf)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.Retained != 0 {
		t.Errorf("Retained = %d, want 0", result.Retained)
	}
	if result.Skipped != result.Windows {
		t.Errorf("Skipped = %d, want all %d windows", result.Skipped, result.Windows)
	}
	if len(result.Metrics) != 0 {
		t.Errorf("len(Metrics) = %d, want 0", len(result.Metrics))
	}
}

func TestDriftRequiresClusteringRun(t *testing.T) {
	ctx := context.Background()
	s := newDriftScenario(t)
	s.add(t, "garden", time.Now())

	engine := NewDriftEngine(s.f.store, s.f.tracker, testDriftConfig(), nil, nil)
	result, err := engine.Compute(ctx, s.project.ID, time.Now())
	if !errors.Is(err, models.ErrNoClusteringRun) {
		t.Fatalf("Compute() error = %v, want ErrNoClusteringRun", err)
	}

	run, err := s.f.store.Runs.Get(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Runs.Get() error = %v", err)
	}
	if run.Status != models.RunFailed {
		t.Errorf("run Status = %v, want Failed", run.Status)
	}
}

func TestDriftUnknownProject(t *testing.T) {
	f := newFixture(t)
	engine := NewDriftEngine(f.store, f.tracker, testDriftConfig(), nil, nil)
	if _, err := engine.Compute(context.Background(), "missing", time.Now()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Compute() error = %v, want ErrNotFound", err)
	}
}

func TestDriftWindowsAreWholeWindows(t *testing.T) {
	asOf := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lookback time.Duration
		want     int
	}{
		{"remainder dropped", 45 * day, 1},
		{"default lookback", 365 * day, 12},
		{"exact multiple", 60 * day, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewDriftEngine(nil, nil, DriftConfig{Window: 30 * day, Lookback: tt.lookback}, nil, nil)
			windows := engine.windows(asOf)
			if len(windows) != tt.want {
				t.Fatalf("windows() = %d windows, want %d", len(windows), tt.want)
			}
			for i, w := range windows {
				if w.end.Sub(w.start) != 30*day {
					t.Errorf("window %d spans %v, want 30 days", i, w.end.Sub(w.start))
				}
				if i > 0 && !windows[i-1].end.Equal(w.start) {
					t.Errorf("window %d starts at %v, want %v", i, w.start, windows[i-1].end)
				}
			}
			if last := windows[len(windows)-1]; !last.end.Equal(asOf) {
				t.Errorf("last window ends at %v, want %v", last.end, asOf)
			}
		})
	}
}
