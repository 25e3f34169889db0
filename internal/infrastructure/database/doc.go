// Package database provides the local SQLite store for SpeechLink.
//
// The only tenant today is the utterance journal (internal/journal), a
// diagnostics record of how each push-to-talk session ended.
//
// This package manages:
//   - Database connection with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations
//   - Lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and each one runs in its own transaction.
package database
