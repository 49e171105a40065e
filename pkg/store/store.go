// Package store persists the station configuration and the tip calibration
// records. Each record carries a checksum and every file is written through a
// current/backup pair, so a power failure during a write loses at most the
// record being written.
package store

import "errors"

var (
	ErrChecksum    = errors.New("checksum mismatch")
	ErrSize        = errors.New("bad record size")
	ErrTipNotFound = errors.New("tip not found")
	ErrUnknownTip  = errors.New("unknown tip name")
	ErrFull        = errors.New("tip file full")
)

// Default file names inside the storage directory.
const (
	ConfigFile       = "config.dat"
	ConfigBackupFile = "config.bak"
	TipFile          = "tips.dat"
	TipBackupFile    = "tips.bak"
)
