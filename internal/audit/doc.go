// Package audit records administrative actions taken through the HTTP API
// (pairing, renaming, removing entities, deleting tailnet devices and manual
// refreshes) in the audit_logs table, and lists them back for review.
//
// Entries never contain API keys.
package audit
