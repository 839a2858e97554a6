package auth

import "fmt"

// OwnerClaims identifies the single operator this engine trades for.
// The multi-tenant tier/subscription/admin claims of the teacher's
// hosted product have no home here (spec §6 is single-owner: one
// chat interface, one read-only API caller) and are dropped rather
// than carried unused.
type OwnerClaims struct {
	OwnerID string `json:"owner_id"`
}

// TokenPair is returned by GenerateTokenPair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthError is a classified auth failure with an HTTP-facing code.
type AuthError struct {
	Code    string
	Message string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrUnauthorized = AuthError{Code: "unauthorized", Message: "authentication required"}
	ErrForbidden    = AuthError{Code: "forbidden", Message: "access denied"}
	ErrInvalidToken = AuthError{Code: "invalid_token", Message: "invalid or malformed token"}
	ErrTokenExpired = AuthError{Code: "token_expired", Message: "token has expired"}
)
