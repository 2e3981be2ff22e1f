// Package database is the local SQLite store for Gray Logic Pi.
//
// The bridge keeps a small on-device history: DHT22 sensor readings and
// device state changes, so a site survives broker or InfluxDB outages
// with its recent data intact. The store is opened in WAL mode with a
// single writer connection, matching SQLite's locking model, and the
// file is kept owner-readable only.
//
// Schema is managed by embedded migrations (see the migrations package
// at the repo root):
//
//	db, err := database.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
//	readings := database.NewReadingRepository(db.DB)
//	states := database.NewStateHistoryRepository(db.DB)
//
// Migrations are additive: new columns are nullable or defaulted, and
// every .up.sql ships with a matching .down.sql for rollback in
// development.
package database
