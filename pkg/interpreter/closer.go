package interpreter

import (
	"context"
	"fmt"

	"github.com/kronktech/sully/pkg/action"
	"github.com/kronktech/sully/pkg/conversation"
	"github.com/kronktech/sully/pkg/jsontime"
	"github.com/kronktech/sully/pkg/transcript"
)

// endSession tears the session down, resumes ambient listening and saves
// the conversation in the background. It reports false when no session was
// active.
func (c *Controller) endSession(ctx context.Context) bool {
	if !c.teardown(PhaseStopping) {
		return false
	}

	// Let in-flight actions land in the list before it is captured.
	c.dispatches.Wait()
	records := c.store.Completed()
	actions := c.dispatcher.Actions()

	c.mu.Lock()
	c.saving++
	c.mu.Unlock()

	c.resumeGate()
	c.background.Go(func() {
		err := c.finalize(ctx, records, actions)
		c.mu.Lock()
		if err != nil {
			c.lastErr = err.Error()
		}
		c.saving--
		// An activation heard meanwhile keeps its armed phase.
		if c.phase == PhaseStopping {
			c.phase = PhaseIdle
		}
		c.mu.Unlock()
		c.notify()
	})
	return true
}

// finalize summarizes the completed records and saves the conversation.
// Failures are logged and returned; the session stays closed either way.
func (c *Controller) finalize(ctx context.Context, records []transcript.Record, actions []action.DetectedAction) error {
	if len(records) == 0 {
		c.logger.Info("interpreter: no completed utterances, nothing to save")
		return nil
	}
	if c.summarizer == nil {
		c.logger.Warn("interpreter: no summarizer configured, conversation not saved", "utterances", len(records))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finalizeTimeout)
	defer cancel()

	res, err := c.summarizer.Summarize(ctx, records)
	c.metrics.RecordSummary(err)
	if err != nil {
		c.logger.Error("interpreter: summarize conversation", "utterances", len(records), "err", err)
		return fmt.Errorf("interpreter: summarize: %w", err)
	}
	c.mu.Lock()
	c.summaryText = res.Summary
	c.mu.Unlock()
	c.notify()

	if c.conversations == nil {
		return nil
	}
	if actions == nil {
		actions = []action.DetectedAction{}
	}
	saved, err := c.conversations.SaveConversation(ctx, &conversation.Conversation{
		Name:       res.Name,
		Summary:    res.Summary,
		Transcript: records,
		Actions:    actions,
		CreatedAt:  jsontime.ISO(c.now()),
	})
	if err != nil {
		c.logger.Error("interpreter: save conversation", "name", res.Name, "err", err)
		return fmt.Errorf("interpreter: save conversation: %w", err)
	}

	c.mu.Lock()
	c.conversationID = saved.ID
	c.mu.Unlock()
	c.logger.Info("interpreter: conversation saved", "id", saved.ID, "name", saved.Name, "utterances", len(records), "actions", len(actions))
	c.notify()
	return nil
}
