//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_store.go -package=mocks github.com/pliu/chatty/internal/store UserDirectory,Notifier
package store

import "fmt"

// Scope names a slice of store state that a change notification applies to.
type Scope string

// ConversationScope covers a conversation's details, members and thread.
func ConversationScope(id int64) Scope {
	return Scope(fmt.Sprintf("conversation:%d", id))
}

// UserScope covers a user's conversation list.
func UserScope(username string) Scope {
	return Scope("user:" + username)
}

// Notifier receives the scopes touched by a committed mutation.
type Notifier interface {
	Publish(scopes ...Scope)
}

type NopNotifier struct{}

func (NopNotifier) Publish(...Scope) {}
