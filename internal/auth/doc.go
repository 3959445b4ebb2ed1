// Package auth handles attendant authentication: bcrypt credential checks,
// HS256 JWT issuance and verification, and the HTTP middleware that attaches
// the authenticated attendant to the request context.
//
// Customers are never authenticated. A customer's only credential is
// possession of a conversation id, which scopes everything they can do.
package auth
