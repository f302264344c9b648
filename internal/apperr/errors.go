// Package apperr defines the error taxonomy shared by the backup, extraction
// and reconciliation layers.
package apperr

import "errors"

var (
	// ErrNotABackup means the container root lacks a recognizable descriptor.
	ErrNotABackup = errors.New("not a backup")
	// ErrNotFound means an identity could not be resolved.
	ErrNotFound = errors.New("not found")
	// ErrIO is an environment fault (disk full, permissions) that aborts a batch.
	ErrIO = errors.New("io error")
	// ErrEncoding means a path could not be encoded as UTF-8.
	ErrEncoding = errors.New("encoding error")
	// ErrBatchUnreadable means nothing was extracted from a non-empty batch.
	ErrBatchUnreadable = errors.New("batch unreadable")
	// ErrEncrypted means the container needs a decrypting reader.
	ErrEncrypted     = errors.New("backup is encrypted")
	ErrAlreadyExists = errors.New("already exists")
)
