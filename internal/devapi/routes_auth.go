package devapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	detailInvalidLogin   = "No active account found with the given credentials"
	detailInvalidRefresh = "Token is invalid or expired"
	fieldRequired        = "This field is required."
)

func (server *Server) mountAuthRoutes(router gin.IRouter) {
	router.POST("/token/", server.handleLogin)
	router.POST("/token/refresh/", server.handleRefresh)
	router.POST("/users/register/", server.handleRegister)
}

func (server *Server) handleLogin(contextGin *gin.Context) {
	var inbound struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return
	}
	missing := gin.H{}
	if strings.TrimSpace(inbound.Username) == "" {
		missing["username"] = []string{fieldRequired}
	}
	if inbound.Password == "" {
		missing["password"] = []string{fieldRequired}
	}
	if len(missing) > 0 {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, missing)
		return
	}

	user, authErr := server.users.Authenticate(contextGin, inbound.Username, inbound.Password)
	if authErr != nil {
		server.metrics.increment(eventLoginFailure)
		server.logger.Info("login rejected",
			zap.String("code", "devapi.login.rejected"),
			zap.String("request_id", contextGin.GetString(requestIDKey)))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detailInvalidLogin})
		return
	}

	now := server.clock.Now()
	accessToken, _, mintErr := MintAccessToken(user, server.config.Issuer, server.config.SigningKey, now, server.config.AccessTTL)
	if mintErr != nil {
		server.internalError(contextGin, "devapi.login.mint_failed", mintErr)
		return
	}
	_, refreshOpaque, issueErr := server.refreshTokens.Issue(contextGin, user.ID, now.Add(server.config.RefreshTTL), "")
	if issueErr != nil || strings.TrimSpace(refreshOpaque) == "" {
		server.internalError(contextGin, "devapi.login.issue_failed", issueErr)
		return
	}
	server.metrics.increment(eventLoginSuccess)
	contextGin.JSON(http.StatusOK, gin.H{"access": accessToken, "refresh": refreshOpaque})
}

func (server *Server) handleRefresh(contextGin *gin.Context) {
	var inbound struct {
		Refresh string `json:"refresh"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Refresh) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"refresh": []string{fieldRequired}})
		return
	}

	userID, currentTokenID, validateErr := server.refreshTokens.Validate(contextGin, inbound.Refresh)
	if validateErr != nil {
		server.rejectRefresh(contextGin, validateErr)
		return
	}
	user, lookupErr := server.users.Lookup(contextGin, userID)
	if lookupErr != nil {
		server.rejectRefresh(contextGin, lookupErr)
		return
	}

	now := server.clock.Now()
	accessToken, _, mintErr := MintAccessToken(user, server.config.Issuer, server.config.SigningKey, now, server.config.AccessTTL)
	if mintErr != nil {
		server.internalError(contextGin, "devapi.refresh.mint_failed", mintErr)
		return
	}
	payload := gin.H{"access": accessToken}
	if server.config.RotateRefresh {
		_, rotated, issueErr := server.refreshTokens.Issue(contextGin, user.ID, now.Add(server.config.RefreshTTL), currentTokenID)
		if issueErr != nil || strings.TrimSpace(rotated) == "" {
			server.internalError(contextGin, "devapi.refresh.issue_failed", issueErr)
			return
		}
		if revokeErr := server.refreshTokens.Revoke(contextGin, currentTokenID); revokeErr != nil {
			server.internalError(contextGin, "devapi.refresh.revoke_failed", revokeErr)
			return
		}
		payload["refresh"] = rotated
	}
	server.metrics.increment(eventRefreshSuccess)
	contextGin.JSON(http.StatusOK, payload)
}

func (server *Server) rejectRefresh(contextGin *gin.Context, reason error) {
	server.metrics.increment(eventRefreshFailure)
	server.logger.Info("refresh rejected",
		zap.String("code", "devapi.refresh.rejected"),
		zap.String("request_id", contextGin.GetString(requestIDKey)),
		zap.Error(reason))
	contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detailInvalidRefresh, "code": "token_not_valid"})
}

func (server *Server) handleRegister(contextGin *gin.Context) {
	var registration Registration
	if err := contextGin.ShouldBindJSON(&registration); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return
	}
	user, err := server.users.Register(contextGin, registration)
	switch {
	case errors.Is(err, ErrUsernameRequired):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"username": []string{fieldRequired}})
		return
	case errors.Is(err, ErrUsernameTaken):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"username": []string{"A user with that username already exists."}})
		return
	case errors.Is(err, ErrPasswordTooShort):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"password": []string{"This password is too short. It must contain at least 8 characters."}})
		return
	case err != nil:
		server.internalError(contextGin, "devapi.register.failed", err)
		return
	}
	server.metrics.increment(eventRegister)
	server.logger.Info("user registered",
		zap.String("code", "devapi.register.succeeded"),
		zap.Int("user_id", user.ID))
	contextGin.JSON(http.StatusCreated, user)
}

func (server *Server) handleCurrentUser(contextGin *gin.Context) {
	claims, ok := claimsFrom(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detailInvalidToken})
		return
	}
	user, err := server.users.Lookup(contextGin, claims.UserID)
	if err != nil {
		server.logger.Warn("user profile missing",
			zap.String("code", "devapi.me.profile_missing"),
			zap.Int("user_id", claims.UserID))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "User not found", "code": "user_not_found"})
		return
	}
	contextGin.JSON(http.StatusOK, user)
}

func (server *Server) internalError(contextGin *gin.Context, code string, err error) {
	server.logger.Error("request failed",
		zap.String("code", code),
		zap.String("request_id", contextGin.GetString(requestIDKey)),
		zap.Error(err))
	contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "A server error occurred."})
}
