package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/pliu/chatty/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
)

// Latest is the open-ended page cursor for ListMessages: every stored
// message was sent before it.
var Latest = time.UnixMilli(math.MaxInt64)

// UserDirectory owns user identity records.
type UserDirectory interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateDisplayName(ctx context.Context, username, displayName string) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
}

// ConversationStore owns conversations, memberships and messages. Every
// mutation is atomic and publishes its change scopes only after it commits.
// Membership is never checked here; callers gate access with IsMember.
type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerUsername, name string, nameIsAuto bool) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListMembers(ctx context.Context, conversationID int64) ([]models.User, error)
	IsMember(ctx context.Context, conversationID int64, username string) (bool, error)
	AddMember(ctx context.Context, conversationID int64, username string) error
	RemoveMember(ctx context.Context, conversationID int64, username string) error
	RenameConversation(ctx context.Context, conversationID int64, name string) error
	SendMessage(ctx context.Context, conversationID int64, authorUsername, text string) (*models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	ListConversationsForUser(ctx context.Context, username string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, before time.Time, limit int) ([]models.Message, error)
}

type Store interface {
	UserDirectory
	ConversationStore
}
