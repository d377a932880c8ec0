// Package permission maps permission names to bits of a 64-bit mask and
// binds roles to masks. Access tokens carry the expanded permission names
// of the principal's role.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authority, token or session.
package permission
