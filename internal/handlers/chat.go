package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pliu/chatty/internal/live"
	"github.com/pliu/chatty/internal/middleware"
	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
	"github.com/pliu/chatty/internal/ws"
	"github.com/samber/lo"
)

const threadNotFound = "Thread not found"

type ChatHandler struct {
	Store    store.Store
	Engine   *live.Engine
	Hub      *ws.Hub
	Auth     ws.Authenticator
	PageSize int
	Log      *slog.Logger
}

func (h *ChatHandler) Recent(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.UsernameFromContext(r.Context())
	conversations, err := h.Store.ListConversationsForUser(r.Context(), username)
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	respondJSON(w, http.StatusOK, conversations)
}

// CreateThread starts a conversation between the caller and the partners
// listed in the space separated "partners" parameter. Unknown partners are
// skipped. Without a "name" parameter the conversation is auto-named.
func (h *ChatHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username, _ := middleware.UsernameFromContext(ctx)
	query := r.URL.Query()

	if strings.TrimSpace(query.Get("partners")) == "" {
		respondWithMessage(w, "No partners were specified", http.StatusBadRequest)
		return
	}
	partnerNames := lo.Uniq(lo.Filter(strings.Fields(query.Get("partners")), func(p string, _ int) bool {
		return p != username
	}))

	partners := make([]models.User, 0, len(partnerNames))
	for _, name := range partnerNames {
		partner, err := h.Store.GetUser(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			respondError(w, h.Log, err)
			return
		}
		partners = append(partners, *partner)
	}
	if len(partners) == 0 {
		respondWithMessage(w, "The specified partners could not be found.", http.StatusBadRequest)
		return
	}

	nameIsAuto := !query.Has("name")
	conversation, err := h.Store.CreateConversation(ctx, username, query.Get("name"), nameIsAuto)
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	for _, partner := range partners {
		if err := h.Store.AddMember(ctx, conversation.ID, partner.Username); err != nil {
			respondError(w, h.Log, err)
			return
		}
	}

	conversation, err = h.Store.GetConversation(ctx, conversation.ID)
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	respondJSON(w, http.StatusCreated, conversation)
}

func (h *ChatHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		respondJSON(w, http.StatusOK, conversation)
	})
}

// Messages pages backwards through a thread. "before" is a Unix millisecond
// cursor, exclusive; without it the newest page is returned.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		before := store.Latest
		if raw := r.URL.Query().Get("before"); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				respondWithMessage(w, "before must be a Unix timestamp in milliseconds", http.StatusBadRequest)
				return
			}
			before = time.UnixMilli(ms)
		}

		limit := h.PageSize
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				respondWithMessage(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}

		messages, err := h.Store.ListMessages(r.Context(), conversation.ID, before, limit)
		if err != nil {
			respondError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, messages)
	})
}

func (h *ChatHandler) Members(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		members, err := h.Store.ListMembers(r.Context(), conversation.ID)
		if err != nil {
			respondError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, members)
	})
}

func (h *ChatHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		member := mux.Vars(r)["username"]
		if _, err := h.Store.GetUser(r.Context(), member); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondWithMessage(w, "User does not exist", http.StatusNotFound)
				return
			}
			respondError(w, h.Log, err)
			return
		}
		if err := h.Store.AddMember(r.Context(), conversation.ID, member); err != nil {
			respondError(w, h.Log, err)
			return
		}
		respondWithMessage(w, fmt.Sprintf("User added to %s", conversation.Name), http.StatusOK)
	})
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		if err := h.Store.RemoveMember(r.Context(), conversation.ID, mux.Vars(r)["username"]); err != nil {
			respondError(w, h.Log, err)
			return
		}
		respondWithMessage(w, fmt.Sprintf("User removed from %s", conversation.Name), http.StatusOK)
	})
}

func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		var req models.RenameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithMessage(w, "No name was provided", http.StatusBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(w, h.Log, err)
			return
		}
		if err := h.Store.RenameConversation(r.Context(), conversation.ID, req.Name); err != nil {
			respondError(w, h.Log, err)
			return
		}
		renamed, err := h.Store.GetConversation(r.Context(), conversation.ID)
		if err != nil {
			respondError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, renamed)
	})
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		respondWithMessage(w, "No message provided", http.StatusBadRequest)
		return
	}
	h.withConversation(w, r, func(conversation *models.Conversation) {
		username, _ := middleware.UsernameFromContext(r.Context())
		message, err := h.Store.SendMessage(r.Context(), conversation.ID, username, text)
		if err != nil {
			respondError(w, h.Log, err)
			return
		}
		respondJSON(w, http.StatusCreated, message)
	})
}

// DeleteMessage lets the author or the conversation owner retract a message.
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	h.withConversation(w, r, func(conversation *models.Conversation) {
		messageID, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
		if err != nil {
			respondWithMessage(w, "Message not found", http.StatusNotFound)
			return
		}
		message, err := h.Store.GetMessage(r.Context(), messageID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && message.ConversationID != conversation.ID) {
			respondWithMessage(w, "Message not found", http.StatusNotFound)
			return
		}
		if err != nil {
			respondError(w, h.Log, err)
			return
		}

		username, _ := middleware.UsernameFromContext(r.Context())
		if message.Author.Username != username && conversation.Owner.Username != username {
			respondWithMessage(w, "Only the author or the owner can delete a message", http.StatusForbidden)
			return
		}
		if err := h.Store.DeleteMessage(r.Context(), messageID); err != nil {
			respondError(w, h.Log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// LiveRecent streams the caller's conversation list.
func (h *ChatHandler) LiveRecent(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(h.Hub, h.Auth, func(_ context.Context, c *ws.Client) error {
		return ws.Bind(c, h.Engine, live.ConversationsFor(h.Store, c.Username))
	}, w, r)
}

// LiveMessages streams the newest page of a thread to a member for as long
// as they stay a member.
func (h *ChatHandler) LiveMessages(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(h.Hub, h.Auth, func(ctx context.Context, c *ws.Client) error {
		id, err := h.authorize(ctx, mux.Vars(r)["id"], c.Username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.DeliverJSON(ErrorResponse{Message: threadNotFound, Code: http.StatusNotFound})
			}
			return err
		}
		if err := ws.Bind(c, h.Engine, live.ThreadMessages(h.Store, id, h.PageSize)); err != nil {
			return err
		}
		// Removal from the conversation ends the stream.
		return ws.Watch(c, h.Engine, live.Members(h.Store, id), func(members []models.User) bool {
			return lo.ContainsBy(members, func(m models.User) bool { return m.Username == c.Username })
		})
	}, w, r)
}

// withConversation is the authorization gate for per-conversation routes.
// Unknown conversations and conversations the caller is not a member of are
// indistinguishable.
func (h *ChatHandler) withConversation(w http.ResponseWriter, r *http.Request, fn func(*models.Conversation)) {
	username, _ := middleware.UsernameFromContext(r.Context())
	id, err := h.authorize(r.Context(), mux.Vars(r)["id"], username)
	if errors.Is(err, store.ErrNotFound) {
		respondWithMessage(w, threadNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, h.Log, err)
		return
	}

	conversation, err := h.Store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondWithMessage(w, threadNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	fn(conversation)
}

func (h *ChatHandler) authorize(ctx context.Context, rawID, username string) (int64, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("conversation %q: %w", rawID, store.ErrNotFound)
	}
	member, err := h.Store.IsMember(ctx, id, username)
	if err != nil {
		return 0, err
	}
	if !member {
		return 0, fmt.Errorf("conversation %d: %w", id, store.ErrNotFound)
	}
	return id, nil
}
