package domain

import (
	"encoding/hex"
	"hash/fnv"
	"sort"
	"strings"
)

// Fingerprint computes a deterministic, endianness-independent identity
// hash for an incident's dedup key: source, title, sorted affected
// resources, and severity (and, if cfg.IncludeLabels, sorted label
// key=value pairs), joined with a single-byte delimiter.
//
// A stable 128-bit-equivalent digest is produced from two independent
// 64-bit FNV-1a hashes (the second seeded by reversing the input), each
// rendered over byte slices rather than machine words so the result does
// not depend on host endianness.
func Fingerprint(source, title string, affectedResources []string, severity Severity, labels map[string]string, cfg FingerprintConfig) string {
	sorted := append([]string(nil), affectedResources...)
	sort.Strings(sorted)

	parts := []string{source, title, strings.Join(sorted, ","), string(severity)}
	if cfg.IncludeLabels && len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		labelParts := make([]string, 0, len(keys))
		for _, k := range keys {
			labelParts = append(labelParts, k+"="+labels[k])
		}
		parts = append(parts, strings.Join(labelParts, ","))
	}

	input := []byte(strings.Join(parts, "\x1f"))

	h1 := fnv.New64a()
	h1.Write(input)
	sum1 := h1.Sum64()

	reversed := make([]byte, len(input))
	for i, b := range input {
		reversed[len(input)-1-i] = b
	}
	h2 := fnv.New64a()
	h2.Write(reversed)
	sum2 := h2.Sum64()

	buf := make([]byte, 16)
	putUint64BE(buf[0:8], sum1)
	putUint64BE(buf[8:16], sum2)

	return hex.EncodeToString(buf)
}

// putUint64BE writes v into b big-endian, one byte at a time, so the
// result never depends on the host's native integer layout.
func putUint64BE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		shift := uint(56 - 8*i)
		b[i] = byte(v >> shift)
	}
}
