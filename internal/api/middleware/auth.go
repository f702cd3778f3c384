package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/auth"
)

const (
	// ContextKeyUserID holds the key for user ID in Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyRole holds the caller's role.
	ContextKeyRole = "role"
	// ContextKeyBranchID holds the branch of branch-scoped callers.
	ContextKeyBranchID = "branchID"
	// ContextKeyClaims holds the full *auth.Claims.
	ContextKeyClaims = "claims"
)

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			errMsg := fmt.Sprintf("Invalid or expired token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyBranchID, claims.BranchID)
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// AdminMiddleware lets through superadmins, admins and branch admins.
// Assumes AuthMiddleware runs first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

// RequireRoles restricts a route to the listed roles.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || !lo.Contains(roles, claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient privileges"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims set by AuthMiddleware, or nil.
func ClaimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// ResolveBranch returns the branch a request may act on. Branch-scoped
// callers are always pinned to their own branch whatever they asked for;
// everyone else gets the requested branch (nil meaning all branches).
func ResolveBranch(c *gin.Context, requested *primitive.ObjectID) (*primitive.ObjectID, error) {
	claims := ClaimsFrom(c)
	if claims == nil || !claims.BranchScoped() {
		return requested, nil
	}
	branchID, err := primitive.ObjectIDFromHex(claims.BranchID)
	if err != nil {
		return nil, fmt.Errorf("token carries no valid branch for role %s", claims.Role)
	}
	return &branchID, nil
}

// InitiatorID parses the caller's user ID. Returns nil when the token's
// subject is not an ObjectID (e.g. service tokens).
func InitiatorID(c *gin.Context) *primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(c.GetString(ContextKeyUserID))
	if err != nil {
		return nil
	}
	return &id
}
