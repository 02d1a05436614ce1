package live

import (
	"context"
	"fmt"

	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
)

// ConversationsFor is the conversation list of a user, most recent first.
func ConversationsFor(s store.ConversationStore, username string) Query[[]models.Conversation] {
	return Query[[]models.Conversation]{
		Key:    "conversations:" + username,
		Scopes: []store.Scope{store.UserScope(username)},
		Read: func(ctx context.Context) ([]models.Conversation, error) {
			return s.ListConversationsForUser(ctx, username)
		},
	}
}

// ThreadMessages is the newest page of a conversation's thread.
func ThreadMessages(s store.ConversationStore, conversationID int64, limit int) Query[[]models.Message] {
	return Query[[]models.Message]{
		Key:    fmt.Sprintf("messages:%d:%d", conversationID, limit),
		Scopes: []store.Scope{store.ConversationScope(conversationID)},
		Read: func(ctx context.Context) ([]models.Message, error) {
			return s.ListMessages(ctx, conversationID, store.Latest, limit)
		},
	}
}

func Members(s store.ConversationStore, conversationID int64) Query[[]models.User] {
	return Query[[]models.User]{
		Key:    fmt.Sprintf("members:%d", conversationID),
		Scopes: []store.Scope{store.ConversationScope(conversationID)},
		Read: func(ctx context.Context) ([]models.User, error) {
			return s.ListMembers(ctx, conversationID)
		},
	}
}
