package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/chatty/internal/middleware"
)

// NewRouter mounts the user and chat routes under /api/v1. Websocket routes
// authenticate through their first frame and skip the HTTP auth middleware.
func NewRouter(users *UserHandler, chats *ChatHandler, authn middleware.RequestAuthenticator, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log))
	requireAuth := middleware.AuthMiddleware(authn, http.HandlerFunc(unauthorized))

	api := r.PathPrefix("/api/v1").Subrouter()

	user := api.PathPrefix("/user").Subrouter()
	user.HandleFunc("/register", users.Register).Methods("POST")
	user.HandleFunc("/login", users.Login).Methods("POST")

	userAuthed := user.NewRoute().Subrouter()
	userAuthed.Use(requireAuth)
	userAuthed.HandleFunc("/me", users.Me).Methods("GET")
	userAuthed.HandleFunc("/me/displayName", users.UpdateDisplayName).Methods("PUT")
	userAuthed.HandleFunc("/me/password", users.UpdatePassword).Methods("PUT")
	userAuthed.HandleFunc("/users", users.ListUsers).Methods("GET")
	userAuthed.HandleFunc("/search", users.SearchUsers).Methods("GET")
	userAuthed.HandleFunc("/{username}", users.GetUser).Methods("GET")

	chat := api.PathPrefix("/chat").Subrouter()
	chat.HandleFunc("/recent/live", chats.LiveRecent).Methods("GET")
	chat.HandleFunc("/thread/{id}/messages/live", chats.LiveMessages).Methods("GET")

	chatAuthed := chat.NewRoute().Subrouter()
	chatAuthed.Use(requireAuth)
	chatAuthed.HandleFunc("/recent", chats.Recent).Methods("GET")
	chatAuthed.HandleFunc("/thread", chats.CreateThread).Methods("POST")
	chatAuthed.HandleFunc("/thread/{id}", chats.GetThread).Methods("GET")
	chatAuthed.HandleFunc("/thread/{id}/messages", chats.Messages).Methods("GET")
	chatAuthed.HandleFunc("/thread/{id}/members", chats.Members).Methods("GET")
	chatAuthed.HandleFunc("/thread/{id}/members/{username}", chats.AddMember).Methods("POST")
	chatAuthed.HandleFunc("/thread/{id}/members/{username}", chats.RemoveMember).Methods("DELETE")
	chatAuthed.HandleFunc("/thread/{id}/name", chats.Rename).Methods("PUT")
	chatAuthed.HandleFunc("/thread/{id}/message", chats.SendMessage).Methods("POST")
	chatAuthed.HandleFunc("/thread/{id}/message/{messageId}", chats.DeleteMessage).Methods("DELETE")

	return r
}
