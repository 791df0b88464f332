package devapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader    = "X-Request-Id"
	requestIDKey       = "request_id"
	claimsKey          = "auth_claims"
	detailInvalidToken = "Given token not valid for any token type"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestID := strings.TrimSpace(contextGin.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		contextGin.Set(requestIDKey, requestID)
		contextGin.Header(requestIDHeader, requestID)
		contextGin.Next()
	}
}

func zapLoggerMiddleware(logger *zap.Logger, metrics *serverMetrics) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		route := contextGin.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := contextGin.Writer.Status()
		metrics.requests.WithLabelValues(contextGin.Request.Method, route, strconv.Itoa(status)).Inc()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", status),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", contextGin.GetString(requestIDKey)),
			zap.Duration("elapsed", duration),
		)
	}
}

// requireBearer validates the access token and injects its claims.
func (server *Server) requireBearer() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		header := contextGin.GetHeader("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		claims, err := ParseAccessToken(strings.TrimSpace(token), server.config.Issuer, server.config.SigningKey, server.clock)
		if err != nil {
			server.metrics.increment(eventRejectedBearer)
			server.logger.Debug("bearer rejected",
				zap.String("code", "devapi.bearer.rejected"),
				zap.String("request_id", contextGin.GetString(requestIDKey)),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detailInvalidToken, "code": "token_not_valid"})
			return
		}
		contextGin.Set(claimsKey, claims)
		contextGin.Next()
	}
}

func claimsFrom(contextGin *gin.Context) (*AccessClaims, bool) {
	value, found := contextGin.Get(claimsKey)
	if !found {
		return nil, false
	}
	claims, ok := value.(*AccessClaims)
	return claims, ok && claims != nil
}
