package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainResult = "livesync/result/v1"
	DomainSpec   = "livesync/spec/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ResultHash fingerprints an ordered result set.
// Two fetches returning the same rows in the same order hash identically,
// which lets observers tell a refresh that changed nothing from one that did.
func ResultHash(rows []Row) (string, error) {
	if rows == nil {
		rows = []Row{}
	}
	canonical, err := MarshalCanonical(rows)
	if err != nil {
		return "", fmt.Errorf("ResultHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResult, canonical), nil
}

// SpecHash fingerprints an arbitrary canonical description of a query spec.
func SpecHash(description map[string]any) (string, error) {
	canonical, err := MarshalCanonical(description)
	if err != nil {
		return "", fmt.Errorf("SpecHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSpec, canonical), nil
}

// MustResultHash is like ResultHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustResultHash(rows []Row) string {
	h, err := ResultHash(rows)
	if err != nil {
		panic(err)
	}
	return h
}
