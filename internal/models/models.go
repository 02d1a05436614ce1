package models

import "time"

type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"-"`
}

// Conversation is always returned hydrated: Owner is resolved and
// LastMessage is the most recent available message, if any.
type Conversation struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	NameIsAuto  bool     `json:"nameIsAuto"`
	Owner       User     `json:"owner"`
	LastMessage *Message `json:"lastMessage"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Author         User      `json:"author"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sentAt"`
}
