// Package cli provides the caseload command-line interface.
//
// # Commands
//
// serve: Run the API server, the health/metrics server and the firm sweeper
//
//	caseload serve
//
// migrate: Apply schema migrations and seed the plan catalog
//
//	caseload migrate --catalog ./catalog.yaml
//
// sweep: Run one maintenance sweep (expire trials, drop stale invitations,
// reconcile limits) and print the report
//
//	caseload sweep
//
// token issue: Mint a bearer token for a user
//
//	caseload token issue --user 6f1c...
//
// user create: Register a user account
//
//	caseload user create --email jane@doe.law --name "Jane Doe"
//
// # Configuration
//
// Every command reads an optional .env file (--env-file) and then
// config.Load, so CASELOAD_* variables and CASELOAD_CONFIG_FILE apply.
package cli
