package auth

import "keyhaven/internal/domain/models"

// JWTVerifier validates bearer tokens.
// This abstraction keeps the middleware agnostic to how keys are fetched.
type JWTVerifier interface {
	// VerifyToken validates a JWT token string and returns the parsed claims.
	// Returns an error if the token is invalid, expired, or has an invalid signature.
	VerifyToken(tokenString string) (*models.Claims, error)

	// Close releases any resources held by the verifier.
	Close() error
}
