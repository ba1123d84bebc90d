package middlewares

import (
	"net/http"

	"github.com/gantryci/gantry/server/httpserver/auth"
	"github.com/gin-gonic/gin"
)

func Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.VerifyRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set("subject", claims.Subject)
		c.Next()
	}
}
