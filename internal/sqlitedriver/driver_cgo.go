//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // registers DriverName with SQLCipher support
)

// EncryptionSupported reports whether the active SQLite driver honors
// PRAGMA key. True when built with CGO.
const EncryptionSupported = true
