package snapshot

import (
	"encoding/binary"
	"math"

	"github.com/aukilabs/kenaz/bvh"
	"github.com/aukilabs/kenaz/geometry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest returns the Keccak-256 hash of the layout of an index: the
// rectangle of every slot followed by the leaf table. Two indexes built from
// the same objects in the same order have the same digest.
func Digest[T geometry.Scalar, O bvh.Bounded[T]](index *bvh.Index[T, O]) common.Hash {
	rects := index.Rects()
	leaves := index.Leaves()

	b := make([]byte, 0, 8+len(rects)*33+len(leaves)*8)
	b = binary.BigEndian.AppendUint32(b, uint32(len(rects)))
	b = binary.BigEndian.AppendUint32(b, uint32(len(leaves)))

	for _, r := range rects {
		if r.IsEmpty() {
			b = append(b, 0)
			continue
		}

		lo := r.Min()
		hi := r.Max()
		b = append(b, 1)
		for _, v := range [...]T{lo.X, lo.Y, hi.X, hi.Y} {
			b = binary.BigEndian.AppendUint64(b, math.Float64bits(float64(v)))
		}
	}

	for _, l := range leaves {
		b = binary.BigEndian.AppendUint32(b, uint32(l.Key))
		b = binary.BigEndian.AppendUint32(b, uint32(l.Object))
	}

	return crypto.Keccak256Hash(b)
}
