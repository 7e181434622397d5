// Package ir provides the value model shared by every livesync package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float values anywhere - exact amounts travel as Decimal
//   - Row keys iterate in RFC 8785 order for deterministic output
//   - Result fingerprints use canonical JSON with domain-separated SHA-256
package ir
