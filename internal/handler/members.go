package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/step-groups/internal/domain"
)

// Join adds the caller to a group, checking the join code of private groups
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req domain.JoinGroupRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.groups.Join(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"), req.JoinCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCreated(w, m)
}

// JoinByCode adds the caller to the group the code belongs to
func (h *Handler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	var req domain.JoinByCodeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.groups.JoinByCode(r.Context(), getUserID(r.Context()), req.JoinCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCreated(w, m)
}

// Leave removes the caller from a group
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Leave(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID")); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "left"})
}

// RequestToJoin files a pending request for a private group
func (h *Handler) RequestToJoin(w http.ResponseWriter, r *http.Request) {
	req, err := h.groups.RequestToJoin(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCreated(w, req)
}

// ListPendingRequests lists a group's pending join requests
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.groups.ListPendingRequests(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, reqs)
}

// ListMembers lists a group's members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.groups.ListMembers(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, members)
}

// InviteMember adds a user to a group as a member
func (h *Handler) InviteMember(w http.ResponseWriter, r *http.Request) {
	var req domain.InviteMemberRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.groups.InviteMember(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCreated(w, m)
}

// ApproveMember approves a pending join request
func (h *Handler) ApproveMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.groups.ApproveMember(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, m)
}

// RemoveMember removes another member from a group
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.groups.RemoveMember(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "removed"})
}

// UpdateMemberRole changes a member's role
func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateMemberRoleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.groups.UpdateMemberRole(r.Context(), getUserID(r.Context()), chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, m)
}
