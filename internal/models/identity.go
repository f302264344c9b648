// Package models defines the domain types for Perthro.
package models

import (
	"path"

	"github.com/starford/perthro/internal/address"
)

// Identity is the logical reference to a backed-up file: either a
// precomputed FileID or a Domain + RelativePath pair.
type Identity struct {
	FileID       string `json:"file_id,omitempty"`
	Domain       string `json:"domain,omitempty"`
	RelativePath string `json:"relative_path,omitempty"`
	// DisplayName is the filename the item is written under when extracted.
	DisplayName string `json:"display_name,omitempty"`
}

// FileIdentity returns an identity for a precomputed file ID.
func FileIdentity(fileID, displayName string) Identity {
	return Identity{FileID: fileID, DisplayName: displayName}
}

// PathIdentity returns an identity for a domain-relative path.
func PathIdentity(domain, relativePath string) Identity {
	return Identity{Domain: domain, RelativePath: relativePath}
}

// HasPath reports whether the identity carries a domain + relative path.
func (id Identity) HasPath() bool {
	return id.Domain != "" && id.RelativePath != ""
}

// Address returns the content address of the identity. A FileID is used
// as is; otherwise the address is computed from the domain and path.
func (id Identity) Address() (string, error) {
	if id.FileID != "" {
		return id.FileID, nil
	}
	return address.Address(id.Domain, id.RelativePath)
}

// Equal reports whether both identities resolve to the same address.
func (id Identity) Equal(other Identity) bool {
	a, err := id.Address()
	if err != nil {
		return false
	}
	b, err := other.Address()
	if err != nil {
		return false
	}
	return a == b
}

// Filename returns the name the identity is extracted under.
func (id Identity) Filename() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	if id.RelativePath != "" {
		return path.Base(id.RelativePath)
	}
	if a, err := id.Address(); err == nil {
		return a
	}
	return ""
}

// String returns a human-readable form for logs.
func (id Identity) String() string {
	if id.HasPath() {
		return id.Domain + "-" + id.RelativePath
	}
	return id.FileID
}
