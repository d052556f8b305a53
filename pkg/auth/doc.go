// Package auth verifies caller identity for the caseload API.
//
// Callers present a signed bearer token (HS256 JWT) whose subject is the
// user id. The token carries no firm or permission data: firm membership is
// resolved from the database on every request so that a canceled membership
// takes effect immediately.
//
//	tm := auth.NewTokenManager(secret, "caseload", 12*time.Hour)
//	token, expiresAt, err := tm.Issue(userID)
//	authCtx, err := tm.Validate(token)
package auth
