package handlers

import (
	"errors"

	"github.com/fleetgate/fleetgate/internal/middleware"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/pkg/response"
	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	tokenService *services.EnrollTokenService
}

func NewTokenHandler(tokenService *services.EnrollTokenService) *TokenHandler {
	return &TokenHandler{tokenService: tokenService}
}

type issueTokenRequest struct {
	ExpiresInMinutes int `json:"expires_in_minutes"`
}

// Issue mints a new enrollment token for the current user
// POST /api/tokens/enroll
func (h *TokenHandler) Issue(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}

	token, err := h.tokenService.Issue(middleware.GetUserID(c), req.ExpiresInMinutes)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTokenTTL) {
			response.BadRequest(c, "expires_in_minutes out of allowed range")
			return
		}
		response.Error(c, err)
		return
	}

	response.Created(c, token)
}

type tokenStatusRequest struct {
	Token string `json:"token" binding:"required"`
}

// Status reports the lifecycle state of an enrollment token. The token
// travels in the body, not the URL, so it stays out of access logs.
// POST /api/tokens/enroll/status
func (h *TokenHandler) Status(c *gin.Context) {
	var req tokenStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	status, err := h.tokenService.Status(middleware.GetUserID(c), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, status)
}
