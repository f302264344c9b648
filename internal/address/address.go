// Package address computes the content addresses under which backup
// containers store their files.
package address

import (
	"crypto/sha1" //nolint:gosec // backup containers are addressed by SHA-1
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"github.com/starford/perthro/internal/apperr"
)

// CameraRollDomain is the domain photos and videos are backed up under.
const CameraRollDomain = "CameraRollDomain"

// Length is the number of hex characters in a content address.
const Length = 40

// Address returns the lowercase hex SHA-1 of domain + "-" + relativePath.
// The inputs are hashed byte for byte; no path normalisation is applied.
func Address(domain, relativePath string) (string, error) {
	if !utf8.ValidString(domain) || !utf8.ValidString(relativePath) {
		return "", fmt.Errorf("address: %q-%q: %w", domain, relativePath, apperr.ErrEncoding)
	}
	h := sha1.New() //nolint:gosec
	h.Write([]byte(domain))
	h.Write([]byte{'-'})
	h.Write([]byte(relativePath))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PhotoAddress returns the address of a camera roll item given its path
// below Media/ (for example "DCIM/100APPLE/IMG_0001.JPG").
func PhotoAddress(relativePath string) (string, error) {
	return Address(CameraRollDomain, "Media/"+relativePath)
}

// IsFileID reports whether s is a 40 character lowercase hex string.
func IsFileID(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
