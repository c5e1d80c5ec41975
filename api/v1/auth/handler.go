package auth

import (
	"errors"
	"time"

	"agent_dashboard/internal/auth"
	"agent_dashboard/internal/config"
	"agent_dashboard/internal/httpx"

	"github.com/gin-gonic/gin"
)

// LoginRequest represents login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents login response data
type LoginResponse struct {
	Token    string   `json:"token"`
	ExpireAt string   `json:"expireAt"`
	User     UserInfo `json:"user"`
}

// UserInfo represents user information in response
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

const adminRole = "admin"

// LoginHandler checks the configured admin account and issues a token
func LoginHandler(cfg *config.Config) gin.HandlerFunc {
	admin := auth.Admin{Username: cfg.Admin.User, PasswordHash: cfg.Admin.PasswordHash}
	return func(c *gin.Context) {
		if !auth.Enabled() {
			httpx.FailErr(c, httpx.ErrStateConflict("authentication is disabled"))
			return
		}

		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
			return
		}

		if err := admin.Verify(req.Username, req.Password); err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
				return
			}
			httpx.FailErr(c, httpx.ErrInternalError("failed to verify credentials", err))
			return
		}

		expireAt := time.Now().Add(time.Duration(cfg.JWT.ExpireMinutes) * time.Minute)
		token, err := auth.GenerateToken(req.Username, adminRole, expireAt, cfg.JWT.Issuer)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to generate token", err))
			return
		}

		httpx.OK(c, LoginResponse{
			Token:    token,
			ExpireAt: expireAt.Format(time.RFC3339),
			User: UserInfo{
				Username: req.Username,
				Role:     adminRole,
			},
		})
	}
}
