package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the billing API. Tokens are issued by the identity
// service; this service only validates them.
const (
	RoleSuperAdmin  = "superadmin"
	RoleAdmin       = "admin"
	RoleBranchAdmin = "branchadmin"
	RoleTeacher     = "teacher"
	RoleStudent     = "student"
)

// Claims defines the structure of the JWT claims.
type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new JWT for a given user. Used by tests and the
// service API to mint tokens.
func GenerateJWT(userID, role, branchID, secretKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Role:     role,
		BranchID: branchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT verifies a JWT string and returns the claims if valid.
func ValidateJWT(tokenString string, secretKey string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid JWT")
	}
	if claims.UserID == "" || claims.Role == "" {
		return nil, fmt.Errorf("token is missing user or role")
	}

	return claims, nil
}

// IsAdmin reports whether the role may run billing operations.
func (c *Claims) IsAdmin() bool {
	switch c.Role {
	case RoleSuperAdmin, RoleAdmin, RoleBranchAdmin:
		return true
	}
	return false
}

// BranchScoped reports whether requests must be limited to the token's branch.
func (c *Claims) BranchScoped() bool {
	return c.Role == RoleBranchAdmin || c.Role == RoleTeacher || c.Role == RoleStudent
}
