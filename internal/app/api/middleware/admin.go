package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/internal/app/service/privilege"
	"github.com/lumichat/billing/pkg/response"
)

// AdminMiddleware rejects callers the privilege resolver does not recognize
// as operators. Must run after AuthMiddleware.
func AdminMiddleware(priv privilege.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		if !priv.IsAdmin(c.Request.Context(), id.UserID, id.Email) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, nil))
			return
		}
		c.Next()
	}
}
