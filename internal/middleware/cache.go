package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids caching of learner-specific responses. Exam papers and
// session state must never be served from a shared or back-button cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, private")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
