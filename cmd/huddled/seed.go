// ABOUTME: Demo data for local development
// ABOUTME: Builds a group and a direct conversation through the service so every write path runs

package main

import (
	"context"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/conversation"
)

var demoUsers = []string{"alice", "bob", "carol"}

type seedResult struct {
	GroupID  string
	DirectID string
	Messages int
}

func seedDemo(ctx context.Context, svc *conversation.Service) (*seedResult, error) {
	topic := "Launch planning"
	group, err := svc.CreateGroupConversation(ctx, "alice", []string{"bob", "carol"}, &topic)
	if err != nil {
		return nil, err
	}

	direct, err := svc.CreateDirectConversation(ctx, "alice", "bob", nil)
	if err != nil {
		return nil, err
	}

	result := &seedResult{GroupID: group.ID, DirectID: direct.ID}
	send := func(convID, sender, body string, replyTo *string) (*chat.Message, error) {
		msg, err := svc.SendMessage(ctx, conversation.SendRequest{
			ConversationID: convID,
			SenderID:       sender,
			Body:           body,
			ReplyTo:        replyTo,
		})
		if err != nil {
			return nil, err
		}
		result.Messages++
		return msg, nil
	}

	kickoff, err := send(group.ID, "alice", "Kickoff is Thursday at 10. Agenda in the doc.", nil)
	if err != nil {
		return nil, err
	}
	if _, err := svc.TagMessage(ctx, kickoff.ID, "bob", chat.TagMeeting); err != nil {
		return nil, err
	}
	if _, err := svc.ReactToMessage(ctx, kickoff.ID, "bob", "👍"); err != nil {
		return nil, err
	}
	if _, err := svc.ReactToMessage(ctx, kickoff.ID, "carol", "👍"); err != nil {
		return nil, err
	}

	if _, err := send(group.ID, "carol", "Can we move it to 11?", &kickoff.ID); err != nil {
		return nil, err
	}
	if err := svc.MarkConversationRead(ctx, group.ID, "bob", nil); err != nil {
		return nil, err
	}

	if _, err := send(direct.ID, "bob", "Got a minute before the kickoff?", nil); err != nil {
		return nil, err
	}
	if _, err := svc.PinConversation(ctx, direct.ID, "alice"); err != nil {
		return nil, err
	}

	return result, nil
}
