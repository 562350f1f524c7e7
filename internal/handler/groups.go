package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/step-groups/internal/domain"
)

// CreateGroup creates a group owned by the caller
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGroupRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	group, err := h.groups.CreateGroup(r.Context(), getUserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCreated(w, group)
}

// ListUserGroups returns the caller's groups
func (h *Handler) ListUserGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListUserGroups(r.Context(), getUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, groups)
}

// SearchPublicGroups searches public groups by name
func (h *Handler) SearchPublicGroups(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(w, r, domain.Validation("limit", "must be a number"))
			return
		}
		limit = l
	}

	groups, err := h.groups.SearchPublicGroups(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, groups)
}

// GetGroup returns a group visible to the caller
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.GetGroup(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, group)
}

// UpdateGroup changes a group's settings
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateGroupRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	group, err := h.groups.UpdateGroup(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, group)
}

// DeleteGroup deletes a group
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.DeleteGroup(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID")); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// GetJoinCode returns a private group's join code
func (h *Handler) GetJoinCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.groups.GetJoinCode(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"join_code": code})
}

// RegenerateJoinCode replaces a private group's join code
func (h *Handler) RegenerateJoinCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.groups.RegenerateJoinCode(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"join_code": code})
}

// GetLeaderboard returns the group's leaderboard for the current period
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.leaderboards.GetLeaderboard(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, board)
}
