package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/store"
)

// Handler scheduling constants.
const (
	// crewInteractionDelay is how long after a post a crew interaction
	// is scheduled, so replies don't land suspiciously fast.
	crewInteractionDelay = 15 * time.Minute
	// respondDelay spaces an author's response to a fresh comment.
	respondDelay = 5 * time.Minute
	// engagementRecalcDelay batches engagement recalculation well after
	// the post has had time to collect comments.
	engagementRecalcDelay = time.Hour
	// recentPostHorizon bounds how far back crew interactions look for
	// a post to reply to.
	recentPostHorizon = 24 * time.Hour
)

// RegisterJobHandlers registers all fleet job handlers with the given
// JobRunner and wires the runner's agent voiding, concurrency caps, and
// dead-letter schedule advancement.
func RegisterJobHandlers(runner *store.JobRunner, deps Deps) {
	runner.SetAgentLookup(deps.Store)
	runner.SetKindLimit(JobKindAgentCycle, AgentCycleConcurrencyLimit)
	runner.SetKindLimit(JobKindCrewInteraction, CrewInteractionConcurrencyLimit)
	runner.SetDeadLetterHook(makeDeadLetterHook(deps))

	runner.RegisterHandler(JobKindAgentCycle, makeAgentCycleHandler(deps))
	runner.RegisterHandler(JobKindGenerateContent, makeGenerateContentHandler(deps))
	runner.RegisterHandler(JobKindCrewInteraction, makeCrewInteractionHandler(deps))
	runner.RegisterHandler(JobKindRespondToComment, makeRespondToCommentHandler(deps))
	runner.RegisterHandler(JobKindRespondToPost, makeRespondToPostHandler(deps))
	runner.RegisterHandler(JobKindRecalculateEngagement, makeRecalculateEngagementHandler(deps))
	runner.RegisterHandler(JobKindOnboardAgent, makeOnboardAgentHandler(deps))
}

// EnqueueDueAgentCycles enqueues an agent_cycle job for every
// schedulable agent whose next_run_at has passed. Dedupe keys keep a
// second tick from stacking duplicate cycles while one is unresolved.
// Invoked by the trigger layer on a short interval.
func EnqueueDueAgentCycles(st store.Store, limit int) (int, error) {
	now := time.Now()
	agents, err := st.ListDueAgents(now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due agents failed: %w", err)
	}

	enqueued := 0
	for _, agent := range agents {
		payload, err := json.Marshal(AgentCyclePayload{AgentID: agent.ID})
		if err != nil {
			return enqueued, fmt.Errorf("marshal cycle payload failed: %w", err)
		}
		id, err := st.EnqueueJob(JobKindAgentCycle, agent.ID, now, string(payload), "cycle:"+agent.ID)
		if err != nil {
			slog.Error("EnqueueDueAgentCycles: enqueue failed", "agentID", agent.ID, "error", err)
			continue
		}
		slog.Debug("EnqueueDueAgentCycles: cycle enqueued", "agentID", agent.ID, "jobID", id)
		enqueued++
	}
	return enqueued, nil
}

// makeDeadLetterHook advances a dead-lettered job's agent along the
// failure path so the agent keeps attempting future cycles instead of
// stalling forever on one poisoned job.
func makeDeadLetterHook(deps Deps) func(ctx context.Context, job store.Job) {
	return func(ctx context.Context, job store.Job) {
		if job.AgentID == "" {
			return
		}
		next := deps.Planner.NextRunOnFailure(time.Now())
		if err := deps.Store.SetAgentNextRun(job.AgentID, next); err != nil {
			slog.Error("deadLetterHook: advance agent failed", "agentID", job.AgentID, "error", err)
			return
		}
		slog.Info("deadLetterHook: agent schedule advanced after dead-letter", "agentID", job.AgentID, "jobID", job.ID, "nextRunAt", next)
	}
}

func makeAgentCycleHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p AgentCyclePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid agent_cycle payload: %w", err))
		}
		slog.Info("JobHandler.agent_cycle: executing", "agentID", p.AgentID)

		agent, err := deps.Store.GetAgent(p.AgentID)
		if err != nil {
			return fmt.Errorf("failed to read agent: %w", err)
		}
		if agent == nil {
			return store.Permanent(fmt.Errorf("agent %s not found", p.AgentID))
		}
		if !agent.IsScheduled {
			slog.Info("JobHandler.agent_cycle: agent no longer scheduled, skipping", "agentID", p.AgentID)
			return nil
		}

		now := time.Now()
		content, fromBuffer, err := contentForAgent(ctx, deps, *agent, now)
		if err != nil {
			return err
		}

		if err := moderateContent(ctx, deps, content.Body); err != nil {
			return err
		}

		postID, err := deps.Store.CreatePost(models.Post{
			AgentID:   agent.ID,
			Body:      content.Body,
			MediaRefs: content.MediaRefs,
			Tags:      content.Tags,
			Effect:    content.Effect,
		})
		if err != nil {
			return fmt.Errorf("failed to publish post: %w", err)
		}
		slog.Info("JobHandler.agent_cycle: post published", "agentID", agent.ID, "postID", postID, "fromBuffer", fromBuffer)

		next := deps.Planner.NextRunOnSuccess(*agent, now)
		if err := deps.Store.SetAgentNextRun(agent.ID, next); err != nil {
			return fmt.Errorf("failed to reschedule agent: %w", err)
		}

		// Follow-up work is best-effort: the post is out either way.
		enqueueFollowUps(deps, agent.ID, now)
		return nil
	}
}

func makeGenerateContentHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p GenerateContentPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid generate_content payload: %w", err))
		}
		slog.Info("JobHandler.generate_content: executing", "agentID", p.AgentID, "topic", p.Topic)

		agent, err := deps.Store.GetAgent(p.AgentID)
		if err != nil {
			return fmt.Errorf("failed to read agent: %w", err)
		}
		if agent == nil {
			return store.Permanent(fmt.Errorf("agent %s not found", p.AgentID))
		}

		content, err := deps.Generator.GeneratePost(ctx, *agent, p.Topic)
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
		if err := moderateContent(ctx, deps, content.Body); err != nil {
			return err
		}

		postID, err := deps.Store.CreatePost(models.Post{
			AgentID:   agent.ID,
			Body:      content.Body,
			MediaRefs: content.MediaRefs,
			Tags:      content.Tags,
			Effect:    content.Effect,
		})
		if err != nil {
			return fmt.Errorf("failed to publish post: %w", err)
		}
		slog.Info("JobHandler.generate_content: post published", "agentID", agent.ID, "postID", postID)
		return nil
	}
}

func makeCrewInteractionHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p CrewInteractionPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid crew_interaction payload: %w", err))
		}
		slog.Info("JobHandler.crew_interaction: executing", "agentID", p.AgentID)

		agent, err := deps.Store.GetAgent(p.AgentID)
		if err != nil {
			return fmt.Errorf("failed to read agent: %w", err)
		}
		if agent == nil {
			return store.Permanent(fmt.Errorf("agent %s not found", p.AgentID))
		}

		now := time.Now()
		post, err := deps.Store.GetRecentPostExcluding(agent.ID, now.Add(-recentPostHorizon))
		if err != nil {
			return fmt.Errorf("failed to find post to reply to: %w", err)
		}
		if post == nil {
			slog.Info("JobHandler.crew_interaction: no recent post to reply to, skipping", "agentID", agent.ID)
			return nil
		}

		reply, err := deps.Generator.GenerateReply(ctx, *agent, post.Body)
		if err != nil {
			return fmt.Errorf("reply generation failed: %w", err)
		}
		if err := moderateContent(ctx, deps, reply); err != nil {
			return err
		}

		commentID, err := deps.Store.CreateComment(models.Comment{
			PostID:  post.ID,
			AgentID: agent.ID,
			Body:    reply,
		})
		if err != nil {
			return fmt.Errorf("failed to publish comment: %w", err)
		}
		slog.Info("JobHandler.crew_interaction: comment published", "agentID", agent.ID, "postID", post.ID, "commentID", commentID)

		// Let the post's author answer back, a little later.
		respPayload, err := json.Marshal(RespondToCommentPayload{AgentID: post.AgentID, PostID: post.ID, CommentID: commentID})
		if err != nil {
			return fmt.Errorf("marshal respond payload failed: %w", err)
		}
		if _, err := deps.Store.EnqueueJob(JobKindRespondToComment, post.AgentID, now.Add(respondDelay), string(respPayload), "respond_comment:"+commentID); err != nil {
			slog.Error("JobHandler.crew_interaction: enqueue respond failed", "commentID", commentID, "error", err)
		}
		return nil
	}
}

func makeRespondToCommentHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p RespondToCommentPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid respond_to_comment payload: %w", err))
		}
		slog.Info("JobHandler.respond_to_comment: executing", "agentID", p.AgentID, "commentID", p.CommentID)

		agent, err := deps.Store.GetAgent(p.AgentID)
		if err != nil {
			return fmt.Errorf("failed to read agent: %w", err)
		}
		if agent == nil {
			return store.Permanent(fmt.Errorf("agent %s not found", p.AgentID))
		}
		comment, err := deps.Store.GetComment(p.CommentID)
		if err != nil {
			return fmt.Errorf("failed to read comment: %w", err)
		}
		if comment == nil {
			slog.Info("JobHandler.respond_to_comment: comment gone, skipping", "commentID", p.CommentID)
			return nil
		}

		return publishReply(ctx, deps, *agent, p.PostID, comment.Body)
	}
}

func makeRespondToPostHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p RespondToPostPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid respond_to_post payload: %w", err))
		}
		slog.Info("JobHandler.respond_to_post: executing", "agentID", p.AgentID, "postID", p.PostID)

		agent, err := deps.Store.GetAgent(p.AgentID)
		if err != nil {
			return fmt.Errorf("failed to read agent: %w", err)
		}
		if agent == nil {
			return store.Permanent(fmt.Errorf("agent %s not found", p.AgentID))
		}
		post, err := deps.Store.GetPost(p.PostID)
		if err != nil {
			return fmt.Errorf("failed to read post: %w", err)
		}
		if post == nil {
			slog.Info("JobHandler.respond_to_post: post gone, skipping", "postID", p.PostID)
			return nil
		}

		return publishReply(ctx, deps, *agent, post.ID, post.Body)
	}
}

func makeRecalculateEngagementHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p RecalculateEngagementPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid recalculate_engagement payload: %w", err))
		}
		n, err := deps.Store.RecalculateEngagement(p.AgentID)
		if err != nil {
			return fmt.Errorf("engagement recalculation failed: %w", err)
		}
		slog.Info("JobHandler.recalculate_engagement: done", "agentID", p.AgentID, "postsUpdated", n)
		return nil
	}
}

func makeOnboardAgentHandler(deps Deps) store.JobHandler {
	return func(ctx context.Context, job store.Job) error {
		var p OnboardAgentPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return store.Permanent(fmt.Errorf("invalid onboard_agent payload: %w", err))
		}
		slog.Info("JobHandler.onboard_agent: executing", "name", p.Name)

		agent := models.Agent{
			Name:             p.Name,
			Persona:          p.Persona,
			PostingFrequency: p.PostingFrequency,
			RhythmProfile:    p.RhythmProfile,
			ActiveStartHour:  p.ActiveStartHour,
			ActiveEndHour:    p.ActiveEndHour,
			IsScheduled:      p.StartScheduled,
		}
		if err := agent.Validate(); err != nil {
			// A malformed profile can never onboard, no matter how often
			// it retries.
			return store.Permanent(fmt.Errorf("invalid agent profile: %w", err))
		}

		if p.StartScheduled {
			next := deps.Planner.NextRunOnSuccess(agent, time.Now())
			agent.NextRunAt = &next
		}

		id, err := deps.Store.CreateAgent(agent)
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}
		slog.Info("JobHandler.onboard_agent: agent created", "agentID", id, "name", p.Name, "scheduled", p.StartScheduled)
		return nil
	}
}

// contentForAgent pops a buffered entry for the agent if one is ready
// and unexpired, falling back to live generation. Returns whether the
// content came from the buffer.
func contentForAgent(ctx context.Context, deps Deps, agent models.Agent, now time.Time) (models.GeneratedContent, bool, error) {
	entry, err := deps.Store.ConsumeBufferEntry(agent.ID, now)
	if err != nil {
		return models.GeneratedContent{}, false, fmt.Errorf("buffer consume failed: %w", err)
	}
	if entry != nil {
		var content models.GeneratedContent
		if err := json.Unmarshal([]byte(entry.PayloadJSON), &content); err == nil && content.Validate() == nil {
			return content, true, nil
		}
		slog.Warn("contentForAgent: unusable buffer entry, falling back to live generation", "entryID", entry.ID, "agentID", agent.ID)
	}

	content, err := deps.Generator.GeneratePost(ctx, agent, "")
	if err != nil {
		return models.GeneratedContent{}, false, fmt.Errorf("generation failed: %w", err)
	}
	return content, false, nil
}

// moderateContent runs the moderation collaborator, converting a
// rejection into a permanent failure: regenerating the same content
// cannot change the verdict, and the dead-letter hook keeps the agent's
// schedule moving.
func moderateContent(ctx context.Context, deps Deps, body string) error {
	verdict, err := deps.Moderator.Moderate(ctx, body)
	if err != nil {
		return fmt.Errorf("moderation failed: %w", err)
	}
	if !verdict.Approved {
		return store.Permanent(fmt.Errorf("content rejected by moderation: %s", verdict.Reason))
	}
	return nil
}

// publishReply generates, moderates, and publishes an in-persona reply
// under the given post.
func publishReply(ctx context.Context, deps Deps, agent models.Agent, postID, original string) error {
	reply, err := deps.Generator.GenerateReply(ctx, agent, original)
	if err != nil {
		return fmt.Errorf("reply generation failed: %w", err)
	}
	if err := moderateContent(ctx, deps, reply); err != nil {
		return err
	}
	commentID, err := deps.Store.CreateComment(models.Comment{
		PostID:  postID,
		AgentID: agent.ID,
		Body:    reply,
	})
	if err != nil {
		return fmt.Errorf("failed to publish comment: %w", err)
	}
	slog.Info("publishReply: comment published", "agentID", agent.ID, "postID", postID, "commentID", commentID)
	return nil
}

// enqueueFollowUps schedules the deduped follow-up jobs that ride along
// with a fresh post: a crew interaction and an engagement recalc.
func enqueueFollowUps(deps Deps, agentID string, now time.Time) {
	crewPayload, err := json.Marshal(CrewInteractionPayload{AgentID: agentID})
	if err == nil {
		if _, err := deps.Store.EnqueueJob(JobKindCrewInteraction, agentID, now.Add(crewInteractionDelay), string(crewPayload), "crew:"+agentID); err != nil {
			slog.Error("enqueueFollowUps: crew interaction enqueue failed", "agentID", agentID, "error", err)
		}
	}

	recalcPayload, err := json.Marshal(RecalculateEngagementPayload{AgentID: agentID})
	if err == nil {
		if _, err := deps.Store.EnqueueJob(JobKindRecalculateEngagement, agentID, now.Add(engagementRecalcDelay), string(recalcPayload), "recalc:"+agentID); err != nil {
			slog.Error("enqueueFollowUps: engagement recalc enqueue failed", "agentID", agentID, "error", err)
		}
	}
}
