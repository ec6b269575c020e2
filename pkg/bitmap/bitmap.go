// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitmap provides the implementation of bitmap.
//
// Bits are packed into little-endian 32-bit words, which is also the layout
// of the allocation bitmaps kept on disk by ext2. Bit i lives in word i/32 at
// position i%32.
package bitmap

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// MaxBitEntryLimit defines the upper limit on how many bit entries are supported by this Bitmap
// implementation.
const MaxBitEntryLimit uint32 = math.MaxInt32

// WordBits is the number of bits held by one bitmap word.
const WordBits = 32

// Bitmap implements an efficient bitmap.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// words holds the bits, 32 entries per word.
	words []uint32
}

// New create a new empty Bitmap.
func New(size uint32) Bitmap {
	return Bitmap{words: make([]uint32, (size+WordBits-1)/WordBits)}
}

// FromBytes decodes a bitmap from its on-disk representation. len(src) must
// be a multiple of 4.
func FromBytes(src []byte) Bitmap {
	b := Bitmap{words: make([]uint32, len(src)/4)}
	for i := range b.words {
		w := binary.LittleEndian.Uint32(src[i*4:])
		b.words[i] = w
		b.numOnes += uint32(bits.OnesCount32(w))
	}
	return b
}

// MarshalBytes encodes the bitmap into dst, which must hold at least
// SizeBytes bytes.
func (b *Bitmap) MarshalBytes(dst []byte) {
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
}

// SizeBytes returns the size of the encoded bitmap.
func (b *Bitmap) SizeBytes() int {
	return len(b.words) * 4
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the total number of bits in the bitmap.
func (b *Bitmap) Size() int {
	return len(b.words) * WordBits
}

// Word returns the i-th word of the bitmap.
func (b *Bitmap) Word(i int) uint32 {
	return b.words[i]
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	return b.words[i/WordBits]&(1<<(i%WordBits)) != 0
}

// FirstZero returns the first unset bit from the range [start, ).
func (b *Bitmap) FirstZero(start uint32) (bit uint32, err error) {
	i, nbit := int(start/WordBits), start%WordBits
	n := len(b.words)
	if i >= n {
		return MaxBitEntryLimit, fmt.Errorf("given start of range exceeds bitmap size")
	}
	w := b.words[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint32(0) {
			r := bits.TrailingZeros32(^w)
			return uint32(r + i*WordBits), nil
		}
		i++
		if i == n {
			break
		}
		w = b.words[i]
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no unset bits")
}

// FirstOne returns the first set bit from the range [start, )
func (b *Bitmap) FirstOne(start uint32) (bit uint32, err error) {
	i, nbit := int(start/WordBits), start%WordBits
	n := len(b.words)
	if i >= n {
		return MaxBitEntryLimit, fmt.Errorf("given start of range exceeds bitmap size")
	}
	w := b.words[i] & (math.MaxUint32 << nbit)
	for {
		if w != uint32(0) {
			r := bits.TrailingZeros32(w)
			return uint32(r + i*WordBits), nil
		}
		i++
		if i == n {
			break
		}
		w = b.words[i]
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no set bits")
}

// Add add i to the Bitmap.
func (b *Bitmap) Add(i uint32) {
	wordNum, mask := i/WordBits, uint32(1)<<(i%WordBits)
	// if wordNum is out of range, extend b.words
	if x, y := int(wordNum), len(b.words); x >= y {
		b.words = append(b.words, make([]uint32, x-y+1)...)
	}
	oldWord := b.words[wordNum]
	newWord := oldWord | mask
	if oldWord != newWord {
		b.words[wordNum] = newWord
		b.numOnes++
	}
}

// Remove i from the Bitmap.
func (b *Bitmap) Remove(i uint32) {
	wordNum, mask := i/WordBits, uint32(1)<<(i%WordBits)
	oldWord := b.words[wordNum]
	newWord := oldWord &^ mask
	if oldWord != newWord {
		b.words[wordNum] = newWord
		b.numOnes--
	}
}

// AddRange sets every bit within [begin, end).
func (b *Bitmap) AddRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Add(i)
	}
}

// CountOnes returns the number of set bits within [begin, end).
func (b *Bitmap) CountOnes(begin, end uint32) uint32 {
	var n uint32
	for i := begin; i < end && int(i/WordBits) < len(b.words); {
		if i%WordBits == 0 && end-i >= WordBits {
			n += uint32(bits.OnesCount32(b.words[i/WordBits]))
			i += WordBits
			continue
		}
		if b.IsSet(i) {
			n++
		}
		i++
	}
	return n
}

// ToSlice transform the Bitmap into slice. For example, a bitmap of [0, 1, 0, 1]
// will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	bitmapSlice := make([]uint32, 0, b.numOnes)
	// base is the start number of a word
	base := 0
	for _, w := range b.words {
		// Iterate through all the numbers held by this word.
		for w != 0 {
			// Extract the lowest set 1 bit.
			j := w & -w
			// Interpret the bit as the number it represents and add it to result.
			bitmapSlice = append(bitmapSlice, uint32(base+bits.OnesCount32(j-1)))
			w ^= j
		}
		base += WordBits
	}
	return bitmapSlice
}

// GetNumOnes return the the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}
