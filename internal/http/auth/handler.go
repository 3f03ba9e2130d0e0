package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"readauth/internal/domain/models"
	"readauth/internal/http/middleware"
	"readauth/internal/lib/password"
	authservice "readauth/internal/services/auth"
	"readauth/internal/services/session"
)

type Handler struct {
	auth *authservice.Auth
}

func NewHandler(auth *authservice.Auth) *Handler {
	return &Handler{auth: auth}
}

// RegisterRoutes mounts the auth endpoints under /api/v1.
func (h *Handler) RegisterRoutes(v1 *gin.RouterGroup) {
	v1.GET("/users/duplicate/loginId", h.checkLoginIDDuplicate)
	v1.GET("/users/duplicate/email", h.checkEmailDuplicate)

	auth := v1.Group("/auth")
	auth.POST("/signup", h.signup)
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", middleware.RequireAuth(), h.logout)
	auth.POST("/find-login-id", h.findLoginID)
	auth.POST("/verify-account", h.verifyAccount)
	auth.POST("/reset-password", h.resetPassword)
	auth.GET("/me", middleware.RequireAuth(), h.me)
}

// ---- request / response shapes ----

type registrationRequest struct {
	LoginID  string `json:"loginId" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	LoginID    string `json:"loginId" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type loginIDRetrievalRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"required"`
}

type accountVerificationRequest struct {
	LoginID string `json:"loginId" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
}

type passwordResetRequest struct {
	ResetToken      string `json:"resetToken" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type userResponse struct {
	ID      int64         `json:"id"`
	LoginID string        `json:"loginId"`
	Email   string        `json:"email"`
	Name    string        `json:"name"`
	Role    models.Role   `json:"role"`
	Status  models.Status `json:"status"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:      u.ID,
		LoginID: u.LoginID,
		Email:   u.Email,
		Name:    u.Name,
		Role:    u.Role,
		Status:  u.Status,
	}
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}

// ---- handlers ----

func (h *Handler) checkLoginIDDuplicate(c *gin.Context) {
	value := c.Query("value")
	if value == "" {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "value is required")
		return
	}
	taken, err := h.auth.LoginIDTaken(c.Request.Context(), value)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, taken)
}

func (h *Handler) checkEmailDuplicate(c *gin.Context) {
	value := c.Query("value")
	if value == "" {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "value is required")
		return
	}
	taken, err := h.auth.EmailTaken(c.Request.Context(), value)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, taken)
}

func (h *Handler) signup(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.LoginID, req.Email, req.Name, req.Password)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, toUserResponse(user))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	accessToken, refreshToken, user, err := h.auth.Login(
		c.Request.Context(), req.LoginID, req.Password,
		req.DeviceID, req.DeviceName, req.Platform,
	)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	success(c, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         toUserResponse(user),
	})
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "refresh_token is required")
		return
	}

	rotated, err := h.auth.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	success(c, gin.H{
		"accessToken":  rotated.AccessToken,
		"refreshToken": rotated.RefreshToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "refresh_token is required")
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, nil)
}

func (h *Handler) findLoginID(c *gin.Context) {
	var req loginIDRetrievalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	loginID, err := h.auth.FindLoginID(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, gin.H{"loginId": loginID})
}

func (h *Handler) verifyAccount(c *gin.Context) {
	var req accountVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	resetToken, err := h.auth.VerifyAccountForReset(c.Request.Context(), req.LoginID, req.Email)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, gin.H{"resetToken": resetToken})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	user, err := h.auth.ResetPassword(c.Request.Context(), req.ResetToken, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	success(c, gin.H{"loginId": user.LoginID})
}

func (h *Handler) me(c *gin.Context) {
	success(c, gin.H{
		"loginId": c.GetString(middleware.CtxLoginID),
		"userId":  c.GetInt64(middleware.CtxUserID),
		"role":    c.MustGet(middleware.CtxRole),
	})
}

// serviceError translates service sentinels into client-visible error
// codes. TokenTheftDetected is surfaced explicitly: the client must know
// that every session for that device is gone and a full re-login is
// required.
func (h *Handler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authservice.ErrUserNotFound):
		fail(c, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	case errors.Is(err, authservice.ErrInvalidPassword):
		fail(c, http.StatusUnauthorized, "INVALID_PASSWORD", "invalid password")
	case errors.Is(err, authservice.ErrAccountLocked):
		fail(c, http.StatusForbidden, "ACCOUNT_LOCKED", "account is locked")
	case errors.Is(err, authservice.ErrAccountDeleted):
		fail(c, http.StatusForbidden, "ACCOUNT_DELETED", "account is deleted")
	case errors.Is(err, authservice.ErrAccountNotFound):
		fail(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "no matching account")
	case errors.Is(err, authservice.ErrDuplicateLoginID):
		fail(c, http.StatusConflict, "DUPLICATE_LOGIN_ID", "login id already in use")
	case errors.Is(err, authservice.ErrDuplicateEmail):
		fail(c, http.StatusConflict, "DUPLICATE_EMAIL", "email already in use")
	case errors.Is(err, session.ErrTokenTheftDetected):
		fail(c, http.StatusUnauthorized, "TOKEN_THEFT_DETECTED",
			"token reuse detected; all sessions for this device were revoked, please log in again")
	case errors.Is(err, session.ErrTokenExpired):
		fail(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "refresh token expired")
	case errors.Is(err, session.ErrAccountInactive):
		fail(c, http.StatusForbidden, "ACCOUNT_LOCKED", "account is not active")
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, authservice.ErrInvalidRefreshToken):
		fail(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid refresh token")
	case errors.Is(err, authservice.ErrPasswordMismatch):
		fail(c, http.StatusBadRequest, "PASSWORD_VALIDATION_FAILED",
			"new password and confirmation do not match")
	case errors.Is(err, password.ErrTooWeak):
		fail(c, http.StatusBadRequest, "WEAK_PASSWORD", "password does not meet the policy")
	case errors.Is(err, authservice.ErrSameAsOldPassword):
		fail(c, http.StatusBadRequest, "PASSWORD_VALIDATION_FAILED",
			"new password must differ from the old one")
	case errors.Is(err, authservice.ErrResetTokenInvalidOrExpired):
		fail(c, http.StatusBadRequest, "INVALID_TOKEN", "reset token invalid or expired")
	case errors.Is(err, authservice.ErrResetTokenAlreadyUsed):
		fail(c, http.StatusBadRequest, "TOKEN_REVOKED", "reset token already used")
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
	}
}
