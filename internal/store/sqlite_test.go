package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
)

// newTestStore creates a SQLite store backed by a temp-dir database.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testAgent(name string) models.Agent {
	return models.Agent{
		Name:             name,
		Persona:          "a dry-witted gardener",
		PostingFrequency: 4,
		IsScheduled:      true,
		ActiveStartHour:  8,
		ActiveEndHour:    22,
	}
}

func TestCreateAndGetAgent(t *testing.T) {
	st := newTestStore(t)

	next := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	a := testAgent("fern")
	a.NextRunAt = &next
	a.RhythmProfile = models.RhythmProfileNightOwl

	id, err := st.CreateAgent(a)
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if id == "" {
		t.Fatal("CreateAgent returned empty ID")
	}

	got, err := st.GetAgent(id)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got == nil {
		t.Fatal("GetAgent returned nil for existing agent")
	}
	if got.Name != "fern" || got.Persona != a.Persona {
		t.Errorf("agent fields mismatch: got %+v", got)
	}
	if got.RhythmProfile != models.RhythmProfileNightOwl {
		t.Errorf("rhythm profile = %q, want night_owl", got.RhythmProfile)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, next)
	}
	if !got.IsScheduled {
		t.Error("is_scheduled = false, want true")
	}
}

func TestGetAgentMissing(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetAgent("agent_nope")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing agent, got %+v", got)
	}
}

func TestListDueAgents(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := testAgent("due")
	due.NextRunAt = &past
	dueID, err := st.CreateAgent(due)
	if err != nil {
		t.Fatalf("CreateAgent due: %v", err)
	}

	notDue := testAgent("not-due")
	notDue.NextRunAt = &future
	if _, err := st.CreateAgent(notDue); err != nil {
		t.Fatalf("CreateAgent notDue: %v", err)
	}

	disabled := testAgent("disabled")
	disabled.NextRunAt = &past
	disabled.IsScheduled = false
	if _, err := st.CreateAgent(disabled); err != nil {
		t.Fatalf("CreateAgent disabled: %v", err)
	}

	unset := testAgent("no-next-run")
	if _, err := st.CreateAgent(unset); err != nil {
		t.Fatalf("CreateAgent unset: %v", err)
	}

	agents, err := st.ListDueAgents(now, 10)
	if err != nil {
		t.Fatalf("ListDueAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("due agents = %d, want 1", len(agents))
	}
	if agents[0].ID != dueID {
		t.Errorf("due agent = %s, want %s", agents[0].ID, dueID)
	}
}

func TestSetAgentScheduling(t *testing.T) {
	st := newTestStore(t)

	id, err := st.CreateAgent(testAgent("toggle"))
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	next := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	if err := st.SetAgentScheduling(id, true, next); err != nil {
		t.Fatalf("SetAgentScheduling enable: %v", err)
	}
	got, err := st.GetAgent(id)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if !got.IsScheduled {
		t.Error("agent not scheduled after enable")
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, next)
	}

	// Disabling must not clear next_run_at.
	if err := st.SetAgentScheduling(id, false, time.Time{}); err != nil {
		t.Fatalf("SetAgentScheduling disable: %v", err)
	}
	got, err = st.GetAgent(id)
	if err != nil {
		t.Fatalf("GetAgent after disable: %v", err)
	}
	if got.IsScheduled {
		t.Error("agent still scheduled after disable")
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next_run_at after disable = %v, want untouched %v", got.NextRunAt, next)
	}
}

func TestSetAgentNextRun(t *testing.T) {
	st := newTestStore(t)

	id, err := st.CreateAgent(testAgent("advance"))
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	next := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	if err := st.SetAgentNextRun(id, next); err != nil {
		t.Fatalf("SetAgentNextRun: %v", err)
	}
	got, err := st.GetAgent(id)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, next)
	}
}

func TestCreateAndGetPost(t *testing.T) {
	st := newTestStore(t)

	agentID, err := st.CreateAgent(testAgent("poster"))
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	postID, err := st.CreatePost(models.Post{
		AgentID:   agentID,
		Body:      "the tomatoes have opinions today",
		MediaRefs: []string{"media/abc.jpg"},
		Tags:      []string{"garden", "tomatoes"},
		Effect:    "sepia",
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	got, err := st.GetPost(postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if got == nil {
		t.Fatal("GetPost returned nil")
	}
	if got.Body != "the tomatoes have opinions today" {
		t.Errorf("body = %q", got.Body)
	}
	if len(got.MediaRefs) != 1 || got.MediaRefs[0] != "media/abc.jpg" {
		t.Errorf("media refs = %v", got.MediaRefs)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.Effect != "sepia" {
		t.Errorf("effect = %q", got.Effect)
	}
}

func TestGetRecentPostExcluding(t *testing.T) {
	st := newTestStore(t)

	a1, err := st.CreateAgent(testAgent("author"))
	if err != nil {
		t.Fatalf("CreateAgent a1: %v", err)
	}
	a2, err := st.CreateAgent(testAgent("other"))
	if err != nil {
		t.Fatalf("CreateAgent a2: %v", err)
	}

	if _, err := st.CreatePost(models.Post{AgentID: a1, Body: "own post"}); err != nil {
		t.Fatalf("CreatePost own: %v", err)
	}
	otherID, err := st.CreatePost(models.Post{AgentID: a2, Body: "other post"})
	if err != nil {
		t.Fatalf("CreatePost other: %v", err)
	}

	since := time.Now().Add(-time.Hour)

	got, err := st.GetRecentPostExcluding(a1, since)
	if err != nil {
		t.Fatalf("GetRecentPostExcluding: %v", err)
	}
	if got == nil {
		t.Fatal("expected a post, got nil")
	}
	if got.ID != otherID {
		t.Errorf("post = %s, want %s (never the excluded agent's own)", got.ID, otherID)
	}

	// Nothing within the horizon.
	got, err = st.GetRecentPostExcluding(a1, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetRecentPostExcluding future horizon: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil outside horizon, got %+v", got)
	}
}

func TestCommentsAndEngagement(t *testing.T) {
	st := newTestStore(t)

	author, err := st.CreateAgent(testAgent("author"))
	if err != nil {
		t.Fatalf("CreateAgent author: %v", err)
	}
	replier, err := st.CreateAgent(testAgent("replier"))
	if err != nil {
		t.Fatalf("CreateAgent replier: %v", err)
	}
	postID, err := st.CreatePost(models.Post{AgentID: author, Body: "hello"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	commentID, err := st.CreateComment(models.Comment{PostID: postID, AgentID: replier, Body: "hello back"})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if _, err := st.CreateComment(models.Comment{PostID: postID, AgentID: replier, Body: "and again"}); err != nil {
		t.Fatalf("CreateComment second: %v", err)
	}

	gotComment, err := st.GetComment(commentID)
	if err != nil {
		t.Fatalf("GetComment: %v", err)
	}
	if gotComment == nil || gotComment.Body != "hello back" {
		t.Errorf("comment = %+v", gotComment)
	}

	n, err := st.RecalculateEngagement(author)
	if err != nil {
		t.Fatalf("RecalculateEngagement: %v", err)
	}
	if n != 1 {
		t.Errorf("posts updated = %d, want 1", n)
	}

	post, err := st.GetPost(postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post.Engagement != 2 {
		t.Errorf("engagement = %v, want 2", post.Engagement)
	}
}
