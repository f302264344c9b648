// Package storage defines the output-directory abstraction extracted
// artifacts are written into.
package storage

import (
	"io"
	"time"
)

// Entry describes one file in the output directory.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Provider is the interface for output directory operations.
type Provider interface {
	// List returns the regular files directly under dir (relative to root).
	List(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// WriteFrom atomically streams r into path (relative to root).
	WriteFrom(path string, r io.Reader) (int64, error)
	// Exists reports whether a file exists at path (relative to root).
	Exists(path string) bool
	// Delete removes the file at path (relative to root).
	Delete(path string) error
}
