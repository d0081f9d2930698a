// Package chunk splits typed payloads into self-describing, checksum-protected
// fragments and merges them back together.
//
// Three strategies cover the three payload shapes:
//
//   - Binary: fixed-size slices of a byte buffer
//   - Text: UTF-8 strings, never splitting inside a multi-byte rune
//   - Structured: nested object/array/value trees addressed by path
//
// Every chunk carries a Header with its index, the total chunk count, the
// byte offset and size within the original payload, a BLAKE3 content hash
// for provenance, and a murmur3 checksum verified at merge time. Merge
// tolerates arbitrary input ordering and is the left inverse of Split:
// Merge(Split(x, s)) == x for any valid x and s > 0.
//
// Chunks are value objects; Split never aliases the input and Merge never
// mutates its argument.
package chunk
