package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
)

// Middleware authenticates a request with the same token sources as the
// websocket handshake and stores the identity on the request context.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.Request.Context(), HandshakeFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(apperr.KindOf(err).HTTPStatus(), gin.H{"success": false, "error": apperr.Message(err)})
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
