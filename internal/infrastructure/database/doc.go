// Package database provides the SQLite store for the Tailnet Monitor.
//
// It holds tracked entities and the Tailscale credentials each one polls
// with. Poll state (known devices, offline timestamps) is deliberately not
// persisted; it is rebuilt from the first poll after a restart.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600 because it stores API keys
//
// Usage:
//
//	db, err := database.OpenMigrated(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// Migrations are embedded by the top-level migrations package and named
// YYYYMMDD_HHMMSS_description.{up,down}.sql. Migrate applies pending
// versions, Rollback reverts the newest ones and MigrationStatus reports
// both; the tailnetmon migrate subcommand drives all three.
package database
