// Package auth provides the session collaborator for serviceos-chat.
//
// # JWT Tokens
//
// Users authenticate with HS256 JWT bearer tokens signed with the configured
// auth.jwt_secret (at least 32 bytes). The "sub" claim is the user ID.
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("user-123", 24*time.Hour)
//
// # HTTP Middleware
//
// OptionalAuthMiddleware verifies the Authorization header when present and
// attaches an AuthContext to the request context. Requests without a valid
// token pass through anonymously; handlers reject them with the API's
// unauthorized error where an identity is required.
//
//	userID := auth.UserID(r.Context())
package auth
