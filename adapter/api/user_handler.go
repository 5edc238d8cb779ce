package api

import (
	"net/http"

	identityUsers "github.com/felixgeelhaar/blade/internal/identity/application/users"
)

// RegisterUser handles POST /users
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if apiErr := decode(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	user, err := h.users.Register(r.Context(), identityUsers.RegisterCommand{
		Email:    req.Email,
		Name:     req.Name,
		Username: req.Username,
		Squad:    req.Squad,
		Age:      req.Age,
		Weight:   req.Weight,
		Height:   req.Height,
	})
	if err != nil {
		h.fail(w, r, "register_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// GetUser handles GET /users/{email}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.FindByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		h.fail(w, r, "get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
