package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Internal 保护门户服务的回调接口。
// 请求需携带 "Authorization: <scheme> <token>"，token 是用 apiKey 签名的 JWT。
func Internal(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		panic("API key cannot be empty for Internal middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c, "")
		if err != nil {
			logrus.WithError(err).Warn("Internal middleware: Missing or malformed Authorization header")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if _, err := validateToken(tokenStr, apiKey); err != nil {
			logrus.WithError(err).WithField("ip", c.ClientIP()).Warn("Internal middleware: Invalid token")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
