package models

import "github.com/golang-jwt/jwt/v5"

// TenantClaims are the token claims this service reads. Tokens are issued by
// the identity collaborator; only the tenant scope matters here.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}
