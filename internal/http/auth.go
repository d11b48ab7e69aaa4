package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Clark-Hu/bookshelf-api/internal/auth"
)

type loginResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if err := decodeJSONBody(w, r, &req, true); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	if _, err := s.auth.Signup(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
		case errors.Is(err, auth.ErrEmailTaken):
			s.respondError(w, http.StatusBadRequest, "EMAIL_TAKEN", "An account with this email already exists")
		default:
			s.logger.Printf("signup error: %v", err)
			s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, messageResponse{Message: "user created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if err := decodeJSONBody(w, r, &req, true); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	userID, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidInput) {
			s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password")
			return
		}
		s.logger.Printf("login error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log in")
		return
	}

	token, err := s.auth.IssueToken(userID)
	if err != nil {
		s.logger.Printf("issue token error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log in")
		return
	}
	s.respondJSON(w, http.StatusOK, loginResponse{UserID: userID, Token: token})
}
