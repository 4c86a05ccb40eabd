package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/castwrite/castwrite/internal/api/middleware"
	"github.com/castwrite/castwrite/internal/api/response"
	"github.com/castwrite/castwrite/internal/store"
	"github.com/castwrite/castwrite/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// NewCreateAPIKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
// The raw key is returned exactly once; only its bcrypt hash is stored.
func NewCreateAPIKeyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{"write"}
		}

		rawKey, err := generateKey()
		if err != nil {
			slog.Error("generate api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create API key", nil)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create API key", nil)
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: rawKey[:keyPrefixLen],
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateAPIKey(r.Context(), key); err != nil {
			slog.Error("create api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create API key", nil)
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"key":        rawKey,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}

// NewListAPIKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListAPIKeysHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		keys, err := st.ListAPIKeys(r.Context(), userID)
		if err != nil {
			slog.Error("list api keys", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list API keys", nil)
			return
		}
		response.JSON(w, keys)
	}
}

// NewRevokeAPIKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewRevokeAPIKeyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		if err := st.RevokeAPIKey(r.Context(), keyID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
				return
			}
			slog.Error("revoke api key", "key_id", keyID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to revoke API key", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// generateKey produces a raw API key. The first keyPrefixLen characters
// double as the lookup prefix stored alongside the hash.
func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("cw_%s", hex.EncodeToString(buf)), nil
}
