//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register(DriverName, &sqlite.Driver{})
}

// EncryptionSupported reports whether the active SQLite driver honors
// PRAGMA key. False when built without CGO.
const EncryptionSupported = false
