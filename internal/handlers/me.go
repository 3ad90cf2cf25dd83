package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Arpitray/commerce/internal/platform/auth"
	"github.com/Arpitray/commerce/internal/platform/httpx"
	"github.com/Arpitray/commerce/internal/services"
)

// MeHandlers exposes endpoints scoped to the authenticated user.
type MeHandlers struct {
	authn    *auth.Authenticator
	sessions services.CartSessionProvider
}

// NewMeHandlers constructs the /me handlers.
func NewMeHandlers(authn *auth.Authenticator, sessions services.CartSessionProvider) *MeHandlers {
	return &MeHandlers{authn: authn, sessions: sessions}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Delete("/session", h.endSession)
}

type meResponse struct {
	UID    string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Locale string `json:"locale,omitempty"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{UID: identity.UID, Email: identity.Email, Locale: identity.Locale})
}

// endSession drops the caller's cart session so the next request rehydrates from the remote store.
func (h *MeHandlers) endSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.sessions != nil {
		h.sessions.End(ctx, identity.UID)
	}
	w.WriteHeader(http.StatusNoContent)
}
