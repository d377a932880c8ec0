// Package directory resolves provider identities to local principals.
//
// The authority only reads from the directory: principal id, role and the
// active flag. Account management lives elsewhere. Two implementations are
// provided: [Static] for tests and small deployments, and [Postgres] for a
// principals table reached through pgx.
package directory
