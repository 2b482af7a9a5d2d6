package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderWalletAddress = "X-Wallet-Address"

	ctxUserID        = "identity.user_id"
	ctxWalletAddress = "identity.wallet_address"
)

// Identity copies the authenticated buyer identity set by the upstream
// gateway into the request context. Missing values are left empty and
// rejected by the pipelines.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxUserID, strings.TrimSpace(c.GetHeader(HeaderUserID)))
		c.Set(ctxWalletAddress, strings.TrimSpace(c.GetHeader(HeaderWalletAddress)))
		c.Next()
	}
}

// UserID returns the caller's user id, or "" when unauthenticated
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// WalletAddress returns the caller's wallet address, or "" when unauthenticated
func WalletAddress(c *gin.Context) string {
	return c.GetString(ctxWalletAddress)
}
