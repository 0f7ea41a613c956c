// Package audit implements a tamper-evident, append-only audit trail backed
// by PostgreSQL.
//
// # Overview
//
// Every record carries a SHA-256 integrity hash computed over a canonical
// serialization of its identifying fields. Once written, records are
// immutable: Update and Delete exist only to refuse, so a compromised
// handler cannot quietly rewrite history.
//
// # Key Types
//
// Writer: validates, fills defaults, hashes, and inserts records
//
//	writer := audit.NewWriter(db, ops, metrics, "castellan", "node-1", audit.EnvironmentProduction)
//	err := writer.Write(ctx, &audit.Record{
//		UserID:   "user-1",
//		Action:   "role.create",
//		Category: audit.CategoryAdmin,
//		Status:   audit.StatusSuccess,
//	})
//
// Dispatcher: bounded queue with background workers, for callers that must
// not block on the insert
//
// Searcher: filtered queries, single-record lookup, and integrity
// verification
//
//	ok, record, err := searcher.Verify(ctx, uuid)
//
// # Integrity
//
// The hash covers uuid, timestamp, actor, organization, action, outcome,
// message, metadata, source address, and the affected entity. VerifyHash
// recomputes it from the stored row; any edit to a covered field changes
// the digest. Hashes are unkeyed and unchained, so they detect casual
// tampering, not an attacker who can also rewrite the hash column.
//
// # Failure Policy
//
// Audit failures never fail the caller's request. They are logged on an
// independent operational channel and counted in metrics.
package audit
