package sim

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingHook struct {
	ctxs []HookCtx
}

func (h *recordingHook) Func(ctx HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

var _ = Describe("HookableBase", func() {
	var (
		base *HookableBase
		pos  *HookPos
	)

	BeforeEach(func() {
		base = NewHookableBase()
		pos = &HookPos{Name: "Test"}
	})

	It("should invoke hooks in registration order", func() {
		var order []int
		base.AcceptHook(HookFunc(func(HookCtx) { order = append(order, 1) }))
		base.AcceptHook(HookFunc(func(HookCtx) { order = append(order, 2) }))

		base.InvokeHook(HookCtx{Pos: pos})

		Expect(order).To(Equal([]int{1, 2}))
		Expect(base.NumHooks()).To(Equal(2))
	})

	It("should pass the context through", func() {
		hook := &recordingHook{}
		base.AcceptHook(hook)

		base.InvokeHook(HookCtx{Pos: pos, Item: 7, Detail: "x"})

		Expect(hook.ctxs).To(HaveLen(1))
		Expect(hook.ctxs[0].Pos).To(BeIdenticalTo(pos))
		Expect(hook.ctxs[0].Item).To(Equal(7))
		Expect(hook.ctxs[0].Detail).To(Equal("x"))
	})
})

var _ = Describe("LogHookBase", func() {
	It("should write through the wrapped logger", func() {
		buf := new(bytes.Buffer)
		h := NewLogHookBase(log.New(buf, "", 0))

		h.Printf("frame %d", 3)

		Expect(buf.String()).To(Equal("frame 3\n"))
	})

	It("should fall back to the default logger", func() {
		h := NewLogHookBase(nil)
		Expect(h.Logger).To(BeIdenticalTo(log.Default()))
	})
})

var _ = Describe("IDGenerator", func() {
	It("should generate sequential ids from 1", func() {
		g := NewIDGenerator()
		Expect(g.GenerateInt()).To(Equal(1))
		Expect(g.GenerateInt()).To(Equal(2))
	})

	It("should generate distinct run names", func() {
		g := NewIDGenerator()
		Expect(g.RunName()).NotTo(Equal(g.RunName()))
	})
})
