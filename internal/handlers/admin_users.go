package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/services"
)

type adminUserListPayload struct {
	Items         []adminUserPayload `json:"items"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

type upsertAdminUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type setAdminUserActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pager, err := parsePagination(r.URL.Query())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	page, err := h.admins.List(ctx, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := adminUserListPayload{
		Items:         make([]adminUserPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, user := range page.Items {
		payload.Items = append(payload.Items, buildAdminUserPayload(user))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *AdminHandlers) upsertUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req upsertAdminUserRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	actor, _ := adminFromContext(ctx)

	user, err := h.admins.Upsert(ctx, services.UpsertAdminUserCommand{
		ActorUID: actor.UID,
		UID:      chi.URLParam(r, "uid"),
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAdminUserPayload(user))
}

func (h *AdminHandlers) setUserActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setAdminUserActiveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if req.Active == nil {
		writeBadRequest(ctx, w, "active is required")
		return
	}
	actor, _ := adminFromContext(ctx)

	user, err := h.admins.SetActive(ctx, services.SetAdminUserActiveCommand{
		ActorUID: actor.UID,
		UID:      chi.URLParam(r, "uid"),
		Active:   *req.Active,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAdminUserPayload(user))
}
