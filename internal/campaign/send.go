package campaign

import (
	"context"
	"fmt"
	"strings"
)

// sendMessage delivers one message through the chosen account. Content types
// are mutually exclusive per message: a poll campaign sends only the poll;
// otherwise the template image and attachments are tried in order with the
// plain text as a last resort. Validation failures return before any network
// call.
func (e *Executor) sendMessage(ctx context.Context, task *Task, msg *Message, serverID int, text string) error {
	digits := normalizePhone(msg.RecipientNumber)
	if len(digits) < 10 {
		return fmt.Errorf("invalid phone number: %q", msg.RecipientNumber)
	}

	recipient, err := e.client.ResolveRecipient(ctx, serverID, digits)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if recipient == "" {
		return fmt.Errorf("number %s is not registered on WhatsApp", digits)
	}

	if task.IsPoll && task.PollQuestion != "" && len(task.PollOptions) > 0 {
		return e.sendPoll(ctx, task, serverID, recipient)
	}
	return e.sendContent(ctx, msg, serverID, recipient, text)
}

// sendPoll sends the campaign poll to one recipient. The aggregate poll
// result record is created once per run, keyed by the first successfully sent
// poll message.
func (e *Executor) sendPoll(ctx context.Context, task *Task, serverID int, recipient string) error {
	pollID, err := e.client.SendPoll(ctx, serverID, recipient, task.PollQuestion, task.PollOptions)
	if err != nil {
		return fmt.Errorf("send poll: %w", err)
	}

	if !e.pollResultSaved {
		e.pollResultSaved = true
		if e.storage != nil {
			if err := e.storage.CreatePollResult(ctx, task.CampaignID, pollID, task.PollQuestion, task.PollOptions); err != nil {
				e.logger.Error("failed to create poll result record",
					"campaign_id", task.CampaignID, "poll_message_id", pollID, "error", err)
			}
		}
	}
	return nil
}

// sendContent sends the non-poll content of a message. Media failures are
// logged and skipped; the message only fails when nothing was sent and the
// text fallback fails too. The personalized text is used as caption for the
// first piece actually sent, so it is never duplicated.
func (e *Executor) sendContent(ctx context.Context, msg *Message, serverID int, recipient, text string) error {
	contentSent := false

	if msg.TemplateImage != "" {
		payload, err := e.loader.Load(ctx, msg.TemplateImage)
		if err != nil {
			e.logger.Warn("failed to load template image",
				"message_id", msg.ID, "source", msg.TemplateImage, "error", err)
		} else if err := e.client.SendMedia(ctx, serverID, recipient, payload, text); err != nil {
			e.logger.Warn("failed to send template image",
				"message_id", msg.ID, "account", serverID, "error", err)
		} else {
			contentSent = true
		}
	}

	for i := range msg.Attachments {
		att := &msg.Attachments[i]

		payload, err := e.loader.Load(ctx, att.Source)
		if err != nil {
			e.logger.Warn("failed to load attachment",
				"message_id", msg.ID, "attachment", i, "source", att.Source, "error", err)
			continue
		}

		caption := att.Caption
		if caption == "" && !contentSent {
			caption = text
		}

		if err := e.client.SendMedia(ctx, serverID, recipient, payload, caption); err != nil {
			e.logger.Warn("failed to send attachment",
				"message_id", msg.ID, "attachment", i, "account", serverID, "error", err)
			continue
		}
		contentSent = true
	}

	if !contentSent {
		if err := e.client.SendText(ctx, serverID, recipient, text); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	return nil
}

// normalizePhone strips everything but digits from a raw phone string.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
