package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEpoch     = "ndi/epoch/v1"
	DomainNavigator = "ndi/navigator/v1"
	DomainContent   = "ndi/content/v1"
	DomainEntity    = "ndi/entity/v1"
)

// HashWithDomain computes a SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data), hex encoded.
// The 0x00 separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the canonical JSON form of v under DomainContent.
func ContentHash(v IRValue) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return HashWithDomain(DomainContent, canonical), nil
}

// HashStrings hashes an ordered list of strings under domain. Each element
// is followed by a 0x00 byte so ["ab","c"] and ["a","bc"] differ.
func HashStrings(domain string, items []string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, s := range items {
		h.Write([]byte(s))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}
