// Package welcome greets every newly registered user from a reserved bot
// account.
package welcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
)

const (
	BotUsername      = "BiggestSECFan"
	BotDisplayName   = "[Bot] Biggest SEC Fan"
	ConversationName = "Welcome to SEC Chat!"
)

// Policy sends the one-time welcome conversation.
type Policy struct {
	store store.Store
	log   *slog.Logger
	hash  func(password string) (string, error)
}

// NewPolicy builds a policy. hash is used once to give the bot an unusable
// random password.
func NewPolicy(s store.Store, log *slog.Logger, hash func(string) (string, error)) *Policy {
	return &Policy{store: s, log: log, hash: hash}
}

// EnsureBot creates the bot account when it does not exist yet.
func (p *Policy) EnsureBot(ctx context.Context) error {
	_, err := p.store.GetUser(ctx, BotUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	password, err := p.hash(uuid.NewString())
	if err != nil {
		return fmt.Errorf("hash bot password: %w", err)
	}
	err = p.store.CreateUser(ctx, &models.User{
		Username:    BotUsername,
		DisplayName: BotDisplayName,
		Password:    password,
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	p.log.Info("Welcome bot created", "username", BotUsername)
	return nil
}

// Send opens a welcome conversation between the bot and user.
func (p *Policy) Send(ctx context.Context, user models.User) error {
	if err := p.EnsureBot(ctx); err != nil {
		return err
	}
	conversation, err := p.store.CreateConversation(ctx, BotUsername, ConversationName, false)
	if err != nil {
		return fmt.Errorf("create welcome conversation: %w", err)
	}
	if err := p.store.AddMember(ctx, conversation.ID, user.Username); err != nil {
		return fmt.Errorf("add %s to welcome conversation: %w", user.Username, err)
	}
	text := fmt.Sprintf("Welcome to the club %s!", user.DisplayName)
	if _, err := p.store.SendMessage(ctx, conversation.ID, BotUsername, text); err != nil {
		return fmt.Errorf("send welcome message: %w", err)
	}
	return nil
}
