// Package storage persists the audit trail of subscriber actions
// (configure, reset, manual checks).
//
// Credentials and unread snapshots are never written; subscriber state lives
// in memory only.
package storage
