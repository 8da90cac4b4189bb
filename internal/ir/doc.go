// Package ir provides the JSON-like value tree every document is made of.
//
// This package contains value types and pure helpers only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - IRValue is sealed: null, string, int, float, bool, array, object
//   - Integers and floats are distinct; 3 and 3.0 compare equal but round-trip
//     as their own type
//   - Object keys iterate in RFC 8785 order (UTF-16 code units) everywhere a
//     byte representation is produced
//   - Content hashes use canonical JSON with domain separation
package ir
