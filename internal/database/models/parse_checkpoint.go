package models

import (
	"time"
)

// File kinds a checkpoint can track. Each (server, kind) pair owns an
// independent cursor namespace.
const (
	FileKindCSV = "csv"
	FileKindLog = "log"
)

// ParseCheckpoint is the durable cursor recording parse progress and
// the identity of the file it points into. It advances monotonically
// except on rotation (reset to zero) or an explicit clear before a
// historical refresh.
type ParseCheckpoint struct {
	ServerKey string `gorm:"primaryKey"`
	FileKind  string `gorm:"primaryKey"`

	FileName     string
	FileSize     int64 `gorm:"default:0"`
	FileModified time.Time

	ByteOffset int64 `gorm:"default:0"`

	UpdatedAt time.Time
}

func (ParseCheckpoint) TableName() string {
	return "parse_checkpoints"
}

// SameIdentity reports whether the checkpoint still points at the
// given file. Identity is the file name alone: every append advances
// the modification time, and SFTP exposes no inode or creation id, so
// size and mtime are stored as metadata only. A rotated kill-log
// arrives under a new name; in-place truncation is caught separately
// by a size below the stored offset.
func (c *ParseCheckpoint) SameIdentity(name string) bool {
	return c.FileName == name
}
