package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Bitmap", func() {
	It("should find the first clear bit", func() {
		b := NewBitmap(70)
		b.Mark(0)
		b.Mark(1)

		Expect(b.Find()).To(Equal(2))
		Expect(b.Test(2)).To(BeTrue())
		Expect(b.NumClear()).To(Equal(67))
	})

	It("should return -1 when full", func() {
		b := NewBitmap(3)

		Expect(b.Find()).To(Equal(0))
		Expect(b.Find()).To(Equal(1))
		Expect(b.Find()).To(Equal(2))
		Expect(b.Find()).To(Equal(-1))
	})

	It("should search past full words", func() {
		b := NewBitmap(130)
		for i := 0; i < 64; i++ {
			b.Mark(i)
		}

		Expect(b.Find()).To(Equal(64))
	})

	It("should keep bits when growing and drop them when shrinking", func() {
		b := NewBitmap(10)
		b.Mark(3)
		b.Mark(9)

		b.Resize(100)
		Expect(b.Test(3)).To(BeTrue())
		Expect(b.Test(9)).To(BeTrue())
		Expect(b.Test(99)).To(BeFalse())

		b.Resize(5)
		Expect(b.Len()).To(Equal(5))
		Expect(b.Test(9)).To(BeFalse())
		Expect(b.NumClear()).To(Equal(4))

		b.Resize(10)
		Expect(b.Test(9)).To(BeFalse())
	})

	It("should treat out of range bits as clear", func() {
		b := NewBitmap(4)

		Expect(b.Test(-1)).To(BeFalse())
		Expect(b.Test(4)).To(BeFalse())
		Expect(func() { b.Mark(4) }).To(Panic())
	})
})
