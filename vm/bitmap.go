package vm

import "math/bits"

// Bitmap is a fixed-length set of bits.
type Bitmap struct {
	words []uint64
	n     int
}

// NewBitmap creates a bitmap of n clear bits.
func NewBitmap(n int) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of bits.
func (b *Bitmap) Len() int {
	return b.n
}

func (b *Bitmap) mustBeInRange(i int) {
	if i < 0 || i >= b.n {
		panic("bitmap index out of range")
	}
}

// Mark sets bit i.
func (b *Bitmap) Mark(i int) {
	b.mustBeInRange(i)
	b.words[i/64] |= 1 << (i % 64)
}

// Clear clears bit i.
func (b *Bitmap) Clear(i int) {
	b.mustBeInRange(i)
	b.words[i/64] &^= 1 << (i % 64)
}

// Test reports whether bit i is set. Bits out of range are clear.
func (b *Bitmap) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}

	return b.words[i/64]&(1<<(i%64)) != 0
}

// Find marks the first clear bit and returns its index, or -1 if every bit
// is set.
func (b *Bitmap) Find() int {
	for w, word := range b.words {
		if word == ^uint64(0) {
			continue
		}

		i := w*64 + bits.TrailingZeros64(^word)
		if i >= b.n {
			return -1
		}

		b.Mark(i)

		return i
	}

	return -1
}

// NumClear returns the number of clear bits.
func (b *Bitmap) NumClear() int {
	set := 0
	for _, word := range b.words {
		set += bits.OnesCount64(word)
	}

	return b.n - set
}

// Resize changes the length. New bits are clear.
func (b *Bitmap) Resize(n int) {
	words := make([]uint64, (n+63)/64)
	copy(words, b.words)

	if n < b.n && n%64 != 0 {
		words[len(words)-1] &= (1 << (n % 64)) - 1
	}

	b.words = words
	b.n = n
}
