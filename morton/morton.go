// Package morton implements 2D Morton codes (Z-order keys). Interleaving the
// bits of two coordinates yields a single integer whose ordering keeps
// spatially close points numerically close.
package morton

// Key is a 2D Morton code. X occupies the even bits and Y the odd bits.
type Key uint32

// Encode interleaves the bits of x and y.
func Encode(x, y uint16) Key {
	return Key(part1By1(uint32(x)) | part1By1(uint32(y))<<1)
}

// Decode returns the coordinates that were interleaved into k.
func (k Key) Decode() (x, y uint16) {
	return uint16(compact1By1(uint32(k))), uint16(compact1By1(uint32(k) >> 1))
}

// part1By1 spreads the lower 16 bits of n so that a zero bit sits between
// each of them.
func part1By1(n uint32) uint32 {
	n &= 0x0000ffff
	n = (n | (n << 8)) & 0x00ff00ff
	n = (n | (n << 4)) & 0x0f0f0f0f
	n = (n | (n << 2)) & 0x33333333
	n = (n | (n << 1)) & 0x55555555
	return n
}

// compact1By1 is the inverse of part1By1.
func compact1By1(n uint32) uint32 {
	n &= 0x55555555
	n = (n | (n >> 1)) & 0x33333333
	n = (n | (n >> 2)) & 0x0f0f0f0f
	n = (n | (n >> 4)) & 0x00ff00ff
	n = (n | (n >> 8)) & 0x0000ffff
	return n
}
