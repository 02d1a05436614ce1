package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/chatty/internal/auth"
	"github.com/pliu/chatty/internal/middleware"
	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
	"github.com/pliu/chatty/internal/welcome"
)

type UserHandler struct {
	Store   store.UserDirectory
	Auth    *auth.Authenticator
	Welcome *welcome.Policy
	Log     *slog.Logger
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, "No parameters were provided.", http.StatusBadRequest)
		return
	}
	reg, err := req.Validate()
	if err != nil {
		respondWithMessage(w, "A required parameter was missing. (username, password, or display name)", http.StatusBadRequest)
		return
	}
	if h.Auth.IsReserved(reg.Username) {
		respondWithMessage(w, "A user with that name already exists.", http.StatusConflict)
		return
	}

	hash, err := h.Auth.HashPassword(reg.Password)
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	user := &models.User{Username: reg.Username, DisplayName: reg.DisplayName, Password: hash}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			respondWithMessage(w, "A user with that name already exists.", http.StatusConflict)
			return
		}
		respondError(w, h.Log, err)
		return
	}

	if err := h.Welcome.Send(r.Context(), *user); err != nil {
		h.Log.Warn("Failed to welcome new user", "username", user.Username, "error", err)
	}
	respondJSON(w, http.StatusCreated, user)
}

// Login exchanges Basic credentials for a session token.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		unauthorized(w, r)
		return
	}
	token, user, err := h.Auth.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondWithMessage(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		respondError(w, h.Log, err)
		return
	}
	respondJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	username, _ := middleware.UsernameFromContext(r.Context())
	h.respondUser(w, r, username)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, mux.Vars(r)["username"])
}

func (h *UserHandler) respondUser(w http.ResponseWriter, r *http.Request, username string) {
	user, err := h.Store.GetUser(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		respondWithMessage(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondJSON(w, http.StatusOK, []models.User{})
		return
	}

	users, err := h.Store.SearchUsers(r.Context(), query)
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *UserHandler) UpdateDisplayName(w http.ResponseWriter, r *http.Request) {
	var req models.DisplayNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, "No display name was provided.", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, h.Log, err)
		return
	}

	username, _ := middleware.UsernameFromContext(r.Context())
	if err := h.Store.UpdateDisplayName(r.Context(), username, req.DisplayName); err != nil {
		respondError(w, h.Log, err)
		return
	}
	h.respondUser(w, r, username)
}

func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, "No password was provided.", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, h.Log, err)
		return
	}

	hash, err := h.Auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, h.Log, err)
		return
	}
	username, _ := middleware.UsernameFromContext(r.Context())
	if err := h.Store.UpdatePassword(r.Context(), username, hash); err != nil {
		respondError(w, h.Log, err)
		return
	}
	respondWithMessage(w, "Password updated", http.StatusOK)
}
