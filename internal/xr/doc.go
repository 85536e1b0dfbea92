// Package xr defines the data model shared by the capture engine and the
// boundary governor.
//
// Types in this package are plain values. A Sample is created once by the
// capture engine and handed to the governor by copy; nothing here is shared
// by reference between the two components.
//
// # Encodings
//
// State codes are non-contiguous (IDLE=1, RUN=2, SAFE=4) because external
// consumers compare against the literal values. A ViolationCode packs the
// violating category above the channel index:
//
//	code = uint32(category) << 8 | channel
//
// # Canonical form
//
// Trace digests use canonical JSON (sorted keys by UTF-16 code units, NFC
// normalized strings, no floats, no nulls) hashed with SHA-256 under a domain
// prefix. Two runs with identical inputs produce identical digests.
package xr
