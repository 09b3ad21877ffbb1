package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hivefeed/hivefeed/internal/cadence"
	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/store"
)

// fakeGenerator returns canned content and records calls.
type fakeGenerator struct {
	postBody  string
	replyBody string
	postErr   error
	replyErr  error
	postCalls int
}

func (f *fakeGenerator) GeneratePost(ctx context.Context, agent models.Agent, topic string) (models.GeneratedContent, error) {
	f.postCalls++
	if f.postErr != nil {
		return models.GeneratedContent{}, f.postErr
	}
	return models.GeneratedContent{Body: f.postBody, Tags: []string{"generated"}}, nil
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, agent models.Agent, original string) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.replyBody, nil
}

// fakeModerator approves or rejects everything.
type fakeModerator struct {
	approved bool
	reason   string
	err      error
}

func (f *fakeModerator) Moderate(ctx context.Context, body string) (models.ModerationVerdict, error) {
	if f.err != nil {
		return models.ModerationVerdict{}, f.err
	}
	return models.ModerationVerdict{Approved: f.approved, Reason: f.reason}, nil
}

func newTestDeps(t *testing.T) (Deps, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	deps := Deps{
		Store:     st,
		Generator: &fakeGenerator{postBody: "fresh post", replyBody: "fresh reply"},
		Moderator: &fakeModerator{approved: true},
		Planner:   cadence.NewPlanner(1),
	}
	return deps, st
}

func createScheduledAgent(t *testing.T, st *store.SQLiteStore) *models.Agent {
	t.Helper()
	next := time.Now().Add(-time.Minute)
	id, err := st.CreateAgent(models.Agent{
		Name:             "fern",
		Persona:          "a dry-witted gardener",
		PostingFrequency: 4,
		IsScheduled:      true,
		NextRunAt:        &next,
		ActiveStartHour:  8,
		ActiveEndHour:    22,
	})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	agent, err := st.GetAgent(id)
	if err != nil || agent == nil {
		t.Fatalf("GetAgent: %v", err)
	}
	return agent
}

func cycleJob(t *testing.T, agentID string) store.Job {
	t.Helper()
	payload, err := json.Marshal(AgentCyclePayload{AgentID: agentID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return store.Job{ID: "job_test", Kind: JobKindAgentCycle, AgentID: agentID, PayloadJSON: string(payload), MaxAttempts: store.DefaultMaxAttempts}
}

func TestAgentCyclePublishesFromBuffer(t *testing.T) {
	deps, st := newTestDeps(t)
	agent := createScheduledAgent(t, st)

	buffered, err := json.Marshal(models.GeneratedContent{Body: "buffered post", Tags: []string{"pre"}})
	if err != nil {
		t.Fatalf("marshal buffered: %v", err)
	}
	if _, err := st.InsertBufferEntry(agent.ID, string(buffered), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry: %v", err)
	}

	handler := makeAgentCycleHandler(deps)
	if err := handler(context.Background(), cycleJob(t, agent.ID)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	gen := deps.Generator.(*fakeGenerator)
	if gen.postCalls != 0 {
		t.Errorf("generator called %d times with content buffered, want 0", gen.postCalls)
	}

	post, err := st.GetRecentPostExcluding("nobody", time.Now().Add(-time.Minute))
	if err != nil || post == nil {
		t.Fatalf("no post published: %v", err)
	}
	if post.Body != "buffered post" {
		t.Errorf("post body = %q, want buffered content", post.Body)
	}

	// The agent's schedule advanced.
	got, err := st.GetAgent(agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at = %v, want advanced into the future", got.NextRunAt)
	}
}

func TestAgentCycleFallsBackToLiveGeneration(t *testing.T) {
	deps, st := newTestDeps(t)
	agent := createScheduledAgent(t, st)

	handler := makeAgentCycleHandler(deps)
	if err := handler(context.Background(), cycleJob(t, agent.ID)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	gen := deps.Generator.(*fakeGenerator)
	if gen.postCalls != 1 {
		t.Errorf("generator calls = %d, want 1 with empty buffer", gen.postCalls)
	}
	post, err := st.GetRecentPostExcluding("nobody", time.Now().Add(-time.Minute))
	if err != nil || post == nil {
		t.Fatalf("no post published: %v", err)
	}
	if post.Body != "fresh post" {
		t.Errorf("post body = %q, want live-generated content", post.Body)
	}
}

func TestAgentCycleEnqueuesFollowUps(t *testing.T) {
	deps, st := newTestDeps(t)
	agent := createScheduledAgent(t, st)

	handler := makeAgentCycleHandler(deps)
	if err := handler(context.Background(), cycleJob(t, agent.ID)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	for _, kind := range []string{JobKindCrewInteraction, JobKindRecalculateEngagement} {
		ok, err := st.HasPendingJob(kind, agent.ID)
		if err != nil {
			t.Fatalf("HasPendingJob %s: %v", kind, err)
		}
		if !ok {
			t.Errorf("no pending %s follow-up", kind)
		}
	}
}

func TestAgentCycleModerationRejectionIsPermanent(t *testing.T) {
	deps, st := newTestDeps(t)
	deps.Moderator = &fakeModerator{approved: false, reason: "off policy"}
	agent := createScheduledAgent(t, st)

	handler := makeAgentCycleHandler(deps)
	err := handler(context.Background(), cycleJob(t, agent.ID))
	if err == nil {
		t.Fatal("expected error for rejected content")
	}
	if !store.IsPermanent(err) {
		t.Errorf("moderation rejection should be permanent, got %v", err)
	}

	// Nothing published.
	post, err := st.GetRecentPostExcluding("nobody", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("GetRecentPostExcluding: %v", err)
	}
	if post != nil {
		t.Errorf("rejected content was published: %+v", post)
	}
}

func TestAgentCycleModerationErrorIsTransient(t *testing.T) {
	deps, st := newTestDeps(t)
	deps.Moderator = &fakeModerator{err: errors.New("moderation API down")}
	agent := createScheduledAgent(t, st)

	handler := makeAgentCycleHandler(deps)
	err := handler(context.Background(), cycleJob(t, agent.ID))
	if err == nil {
		t.Fatal("expected error when moderation fails")
	}
	if store.IsPermanent(err) {
		t.Errorf("moderation outage should be retryable, got permanent: %v", err)
	}
}

func TestAgentCycleSkipsUnscheduledAgent(t *testing.T) {
	deps, st := newTestDeps(t)
	agent := createScheduledAgent(t, st)
	if err := st.SetAgentScheduling(agent.ID, false, time.Time{}); err != nil {
		t.Fatalf("SetAgentScheduling: %v", err)
	}

	handler := makeAgentCycleHandler(deps)
	if err := handler(context.Background(), cycleJob(t, agent.ID)); err != nil {
		t.Fatalf("handler should skip, not fail: %v", err)
	}

	gen := deps.Generator.(*fakeGenerator)
	if gen.postCalls != 0 {
		t.Errorf("generator called for an unscheduled agent")
	}
}

func TestAgentCycleMissingAgentIsPermanent(t *testing.T) {
	deps, _ := newTestDeps(t)

	handler := makeAgentCycleHandler(deps)
	err := handler(context.Background(), cycleJob(t, "agent_missing"))
	if err == nil || !store.IsPermanent(err) {
		t.Errorf("missing agent should be a permanent failure, got %v", err)
	}
}

func TestAgentCycleInvalidPayloadIsPermanent(t *testing.T) {
	deps, _ := newTestDeps(t)

	handler := makeAgentCycleHandler(deps)
	job := store.Job{ID: "job_bad", Kind: JobKindAgentCycle, PayloadJSON: "{not json"}
	err := handler(context.Background(), job)
	if err == nil || !store.IsPermanent(err) {
		t.Errorf("invalid payload should be a permanent failure, got %v", err)
	}
}

func TestOnboardAgentHandler(t *testing.T) {
	deps, st := newTestDeps(t)

	payload, err := json.Marshal(OnboardAgentPayload{
		Name:             "moss",
		Persona:          "an overenthusiastic mycologist",
		PostingFrequency: 6,
		RhythmProfile:    models.RhythmProfileEarlyRiser,
		ActiveStartHour:  5,
		ActiveEndHour:    20,
		StartScheduled:   true,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	handler := makeOnboardAgentHandler(deps)
	job := store.Job{ID: "job_onboard", Kind: JobKindOnboardAgent, PayloadJSON: string(payload)}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}

	agents, err := st.ListSchedulableAgents(10)
	if err != nil {
		t.Fatalf("ListSchedulableAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(agents))
	}
	got := agents[0]
	if got.Name != "moss" || got.RhythmProfile != models.RhythmProfileEarlyRiser {
		t.Errorf("agent = %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("scheduled onboard must set a future next_run_at, got %v", got.NextRunAt)
	}
}

func TestOnboardAgentInvalidProfileIsPermanent(t *testing.T) {
	deps, _ := newTestDeps(t)

	payload, err := json.Marshal(OnboardAgentPayload{
		Name:             "ghost",
		Persona:          "", // invalid
		PostingFrequency: 4,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	handler := makeOnboardAgentHandler(deps)
	job := store.Job{ID: "job_onboard_bad", Kind: JobKindOnboardAgent, PayloadJSON: string(payload)}
	got := handler(context.Background(), job)
	if got == nil || !store.IsPermanent(got) {
		t.Errorf("invalid profile should be a permanent failure, got %v", got)
	}
}

func TestCrewInteractionPublishesCommentAndResponse(t *testing.T) {
	deps, st := newTestDeps(t)
	author := createScheduledAgent(t, st)
	replier := createScheduledAgent(t, st)

	postID, err := st.CreatePost(models.Post{AgentID: author.ID, Body: "original post"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	payload, err := json.Marshal(CrewInteractionPayload{AgentID: replier.ID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	handler := makeCrewInteractionHandler(deps)
	job := store.Job{ID: "job_crew", Kind: JobKindCrewInteraction, AgentID: replier.ID, PayloadJSON: string(payload)}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}

	// The replier commented on the author's post...
	n, err := st.RecalculateEngagement(author.ID)
	if err != nil {
		t.Fatalf("RecalculateEngagement: %v", err)
	}
	if n != 1 {
		t.Fatalf("posts updated = %d, want 1", n)
	}
	post, err := st.GetPost(postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post.Engagement != 1 {
		t.Errorf("engagement = %v, want 1 comment", post.Engagement)
	}

	// ...and the author got a deferred respond_to_comment job.
	ok, err := st.HasPendingJob(JobKindRespondToComment, author.ID)
	if err != nil {
		t.Fatalf("HasPendingJob: %v", err)
	}
	if !ok {
		t.Error("no respond_to_comment job enqueued for the post author")
	}
}

func TestCrewInteractionNoRecentPostSkips(t *testing.T) {
	deps, st := newTestDeps(t)
	replier := createScheduledAgent(t, st)

	payload, err := json.Marshal(CrewInteractionPayload{AgentID: replier.ID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	handler := makeCrewInteractionHandler(deps)
	job := store.Job{ID: "job_crew", Kind: JobKindCrewInteraction, AgentID: replier.ID, PayloadJSON: string(payload)}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler should skip with no posts, got %v", err)
	}
}

func TestRespondToCommentHandler(t *testing.T) {
	deps, st := newTestDeps(t)
	author := createScheduledAgent(t, st)
	replier := createScheduledAgent(t, st)

	postID, err := st.CreatePost(models.Post{AgentID: author.ID, Body: "post body"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	commentID, err := st.CreateComment(models.Comment{PostID: postID, AgentID: replier.ID, Body: "nice post"})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	payload, err := json.Marshal(RespondToCommentPayload{AgentID: author.ID, PostID: postID, CommentID: commentID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	handler := makeRespondToCommentHandler(deps)
	job := store.Job{ID: "job_resp", Kind: JobKindRespondToComment, AgentID: author.ID, PayloadJSON: string(payload)}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if _, err := st.RecalculateEngagement(author.ID); err != nil {
		t.Fatalf("RecalculateEngagement: %v", err)
	}
	post, err := st.GetPost(postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	// Original comment plus the author's response.
	if post.Engagement != 2 {
		t.Errorf("engagement = %v, want 2", post.Engagement)
	}
}

func TestRespondToCommentGoneSkips(t *testing.T) {
	deps, st := newTestDeps(t)
	author := createScheduledAgent(t, st)

	payload, err := json.Marshal(RespondToCommentPayload{AgentID: author.ID, PostID: "post_x", CommentID: "comment_gone"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	handler := makeRespondToCommentHandler(deps)
	job := store.Job{ID: "job_resp", Kind: JobKindRespondToComment, AgentID: author.ID, PayloadJSON: string(payload)}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler should skip a deleted comment, got %v", err)
	}
}

func TestRecalculateEngagementHandler(t *testing.T) {
	deps, st := newTestDeps(t)
	author := createScheduledAgent(t, st)
	replier := createScheduledAgent(t, st)

	postID, err := st.CreatePost(models.Post{AgentID: author.ID, Body: "post"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if _, err := st.CreateComment(models.Comment{PostID: postID, AgentID: replier.ID, Body: "one"}); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	payload, err := json.Marshal(RecalculateEngagementPayload{AgentID: author.ID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	handler := makeRecalculateEngagementHandler(deps)
	job := store.Job{ID: "job_recalc", Kind: JobKindRecalculateEngagement, AgentID: author.ID, PayloadJSON: string(payload)}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}

	post, err := st.GetPost(postID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post.Engagement != 1 {
		t.Errorf("engagement = %v, want 1", post.Engagement)
	}
}

func TestEnqueueDueAgentCyclesDedupes(t *testing.T) {
	_, st := newTestDeps(t)
	agent := createScheduledAgent(t, st)

	n, err := EnqueueDueAgentCycles(st, 10)
	if err != nil {
		t.Fatalf("EnqueueDueAgentCycles: %v", err)
	}
	if n != 1 {
		t.Fatalf("enqueued = %d, want 1", n)
	}

	// A second tick while the cycle is unresolved must not stack another.
	n, err = EnqueueDueAgentCycles(st, 10)
	if err != nil {
		t.Fatalf("EnqueueDueAgentCycles second: %v", err)
	}
	if n != 1 {
		t.Fatalf("second tick enqueued = %d, want 1 (deduped to the same job)", n)
	}

	jobs, err := st.ClaimDueJobs(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("claimable cycles = %d, want 1", len(jobs))
	}
	if len(jobs) == 1 && jobs[0].AgentID != agent.ID {
		t.Errorf("cycle agent = %s, want %s", jobs[0].AgentID, agent.ID)
	}
}

func TestDeadLetterHookAdvancesAgent(t *testing.T) {
	deps, st := newTestDeps(t)
	agent := createScheduledAgent(t, st)

	hook := makeDeadLetterHook(deps)
	hook(context.Background(), store.Job{ID: "job_x", Kind: JobKindAgentCycle, AgentID: agent.ID})

	got, err := st.GetAgent(agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next_run_at = %v, want advanced past now", got.NextRunAt)
	}
}
