// Package auth issues and checks the bearer tokens of the HTTP API.
//
// There are no user accounts. An operator mints a token with
//
//	tailnetmon token <subject> [role]
//
// and presents it as "Authorization: Bearer <token>". Tokens are HS256
// JWTs signed with security.jwt.secret; each carries a role, and each role
// maps to a fixed set of permissions (see permissions.go).
package auth
