// Package mug computes the 32-bit, non-cryptographic content checksum used
// throughout the snapshot engine to detect torn or corrupt pages. It is
// deliberately not a cryptographic hash: spec.md §6 only requires that
// matching bytes produce matching checksums, and the original urbit
// implementation (original_source/pkg/urbit/noun/events.c, _ce_check_page)
// uses the same style of cheap word-mixing hash for the identical purpose.
package mug

// Of mixes the bytes of buf (treated as a stream of little-endian 32-bit
// words) into a single 32-bit checksum. buf's length need not be a multiple
// of 4; a short trailing tail is zero-padded into the final word.
func Of(buf []byte) uint32 {
	var h uint32 = 0xcafebabe

	n := len(buf) / 4
	for i := 0; i < n; i++ {
		w := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		h = mix(h, w)
	}

	if tail := len(buf) % 4; tail != 0 {
		var w uint32
		for i := 0; i < tail; i++ {
			w |= uint32(buf[n*4+i]) << (8 * uint(i))
		}
		h = mix(h, w)
	}

	return h ^ (h >> 16)
}

// mix folds one 32-bit word into the running hash using a Murmur-style
// multiply-rotate-xor step; chosen only for cheap avalanche, not security.
func mix(h, w uint32) uint32 {
	const c1 = 0xcc9e2d51
	const c2 = 0x1b873593

	w *= c1
	w = (w << 15) | (w >> 17)
	w *= c2

	h ^= w
	h = (h << 13) | (h >> 19)
	h = h*5 + 0xe6546b64
	return h
}
