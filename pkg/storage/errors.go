package storage

import "errors"

var (
	// ErrUniqueViolation is returned when a write would collide with an
	// existing unique-index entry owned by a different primary key
	// (by-code, by-idempotency_key).
	ErrUniqueViolation = errors.New("storage: unique index violation")

	// ErrNotFound is returned by lookups that require the record to
	// exist (Get returns (zero, false, nil) instead; callers that want
	// an error wrap with this).
	ErrNotFound = errors.New("storage: record not found")

	// ErrMigrationFatal marks a migration failure that survived one
	// auto-recreation attempt (§4.1 "a second consecutive failure is
	// fatal and surfaces a migration error").
	ErrMigrationFatal = errors.New("storage: migration failed after rebuild")

	// ErrMigrationStepFailed marks an ordinary migration-step failure:
	// bbolt already rolled the transaction back, so the store remains
	// at its prior version (§4.1 "the store must remain at v_k"). This
	// is distinct from ErrMigrationFatal's missing-store/index case;
	// recovery requires a user-initiated reset (§7 "migration").
	ErrMigrationStepFailed = errors.New("storage: migration step failed, store unchanged")
)
