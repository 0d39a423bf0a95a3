package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CoreMap", func() {
	var coreMap *CoreMap

	BeforeEach(func() {
		coreMap = NewCoreMap(4)
	})

	It("should hand out free frames in order", func() {
		f0, ok0 := coreMap.Acquire()
		f1, ok1 := coreMap.Acquire()

		Expect(ok0).To(BeTrue())
		Expect(ok1).To(BeTrue())
		Expect(f0).To(Equal(0))
		Expect(f1).To(Equal(1))
		Expect(coreMap.RefCount(0)).To(Equal(1))
		Expect(coreMap.NumFree()).To(Equal(2))
	})

	It("should fail when every frame is taken", func() {
		for i := 0; i < 4; i++ {
			coreMap.Acquire()
		}

		frame, ok := coreMap.Acquire()
		Expect(ok).To(BeFalse())
		Expect(frame).To(Equal(-1))
	})

	It("should free a frame when the last reference goes", func() {
		frame, _ := coreMap.Acquire()
		coreMap.Retain(frame)

		coreMap.Release(frame)
		Expect(coreMap.RefCount(frame)).To(Equal(1))

		coreMap.Release(frame)
		coreMap.Release(frame)
		Expect(coreMap.RefCount(frame)).To(Equal(0))
	})

	It("should skip frames of shared segments", func() {
		Expect(coreMap.CreateSegment(9, []int{0, 1})).To(Succeed())

		frame, _ := coreMap.Acquire()
		Expect(frame).To(Equal(2))
		Expect(coreMap.IsShared(0)).To(BeTrue())
		Expect(coreMap.NumFree()).To(Equal(1))
	})

	It("should reject a duplicate key", func() {
		Expect(coreMap.CreateSegment(9, []int{0})).To(Succeed())
		Expect(coreMap.CreateSegment(9, []int{1})).
			To(MatchError(ErrSegmentExists))
	})

	It("should delete a segment after the last detach", func() {
		Expect(coreMap.CreateSegment(9, []int{0, 1})).To(Succeed())
		coreMap.Attach(9)
		coreMap.Attach(9)

		coreMap.Detach(9)
		_, ok := coreMap.Segment(9)
		Expect(ok).To(BeTrue())

		coreMap.Detach(9)
		_, ok = coreMap.Segment(9)
		Expect(ok).To(BeFalse())
		Expect(coreMap.IsShared(0)).To(BeFalse())
		Expect(coreMap.NumFree()).To(Equal(4))
	})
})
