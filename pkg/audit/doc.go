// Package audit records state-changing operations as immutable audit log entries.
//
// # Overview
//
// Operations emit an Event through an Emitter once the change they describe has been
// committed. The Recorder is the Emitter used in production: it enriches events with
// request-scoped values (actor, session, client IP, user agent, request id), queues them
// and writes them to a Sink on background workers. A failed write is logged and
// swallowed; it never fails or rolls back the operation that emitted it.
//
//	recorder := audit.NewRecorder(audit.NewMultiSink(dbSink, audit.NewLogSink(logger)),
//		audit.RecorderConfig{BufferSize: 1024, Workers: 2}, logger, metrics)
//	defer recorder.Close(ctx)
//
//	recorder.Emit(ctx, audit.Event{
//		Action:       audit.ActionGrantUpsert,
//		ResourceType: audit.ResourceGrant,
//		ResourceID:   audit.StringPtr(userID + ":" + companyID),
//		OldValues:    audit.Snapshot(previous),
//		NewValues:    audit.Snapshot(grant),
//		Success:      true,
//	})
//
// # Storage
//
// DBSink appends to the audit_logs table and serves Search, Get and Stats. Rows are
// never updated or deleted. S3Archiver copies each UTC day to object storage as gzipped
// NDJSON for long-term retention.
//
// # Export
//
// Search results export as JSON, NDJSON or CSV.
package audit
