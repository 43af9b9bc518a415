// Package sqlitedriver registers the SQLite database/sql driver backing the
// hive message store. When built with CGO (the default on macOS/Linux) it
// uses go-sqlcipher, which supports SQLCipher encryption of the store file.
// When CGO is unavailable it falls back to the pure-Go modernc.org/sqlite
// driver, which works but cannot encrypt.
//
// Open the store database with DriverName:
//
//	db, err := sql.Open(sqlitedriver.DriverName, dsn)
package sqlitedriver

// DriverName is the name the SQLite driver is registered under.
const DriverName = "sqlite3"
