/*
Package log provides structured logging for the sync engine using zerolog.

The log package wraps zerolog to provide JSON or console-formatted logging
with component-specific child loggers, a configurable level, and a handful
of package-level helpers for the common case of a one-line message with no
extra fields.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	queueLog := log.WithComponent("queue")
	queueLog.Info().Str("op_id", op.ID).Msg("operation enqueued")

	log.Logger.Error().Err(err).Str("table", "deliveries").Msg("sync attempt failed")

Component loggers (WithComponent, WithUserID, WithTable, WithOperationID)
attach a single field and return a derived zerolog.Logger; compose them with
zerolog's own With() chain when more than one field is needed.

The global Logger is a package-level singleton, set once by Init and read
from the packages that log (queue, scheduler, storage, quota, delta,
offline, idmap) — there is no logger threaded through
constructors.
*/
package log
