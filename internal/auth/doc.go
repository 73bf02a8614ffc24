// Package auth authenticates callers of the huddle HTTP endpoints.
//
// # Tokens
//
// Users present HS256 JWTs whose "sub" claim is their user id. Tokens must
// carry an expiry and are signed with the configured auth.jwt_secret, which
// must be at least MinSecretLength bytes:
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("alice", 24*time.Hour)
//	userID, err := verifier.Verify(token)
//
// # HTTP
//
// HTTPAuthMiddleware reads the token from "Authorization: Bearer <token>",
// or from the token query parameter when no header is sent, and stores the
// verified user in the request context:
//
//	user := auth.FromContext(r.Context()).UserID
package auth
