// Package audit records an append-only trail of billing and usage changes:
// accounts created, subscription transitions applied or dropped, and usage
// sweeps.
//
// Events go to one or more sinks. FileLogger writes JSON lines with
// size-based rotation, DBLogger inserts into meter_audit_events, and
// MultiLogger fans out to several of them:
//
//	file, _ := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: dir, Rotate: true})
//	db, _ := audit.NewDBLogger(ctx, sqlDB)
//	trail := audit.NewMultiLogger(file, db)
//
//	ev := audit.NewEvent(ctx, audit.EventTypeSubscriptionUpdated, audit.EventStatusSuccess)
//	ev.UserID = "user-1"
//	audit.Record(ctx, trail, logger, ev)
//
// Record never returns an error. A sink that fails is logged and the
// audited operation carries on.
package audit
