package vm

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/nachosvm/filesys"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/sarchlab/nachosvm/sim"
	"go.uber.org/mock/gomock"
)

func frameContent(mem *Memory, frame int) []byte {
	data, err := mem.Physical().Read(
		uint64(frame*mem.PageSize()), uint64(mem.PageSize()))
	Expect(err).NotTo(HaveOccurred())

	return data
}

// evict forces one page of the space out and gives the frame back.
func evict(mem *Memory, space *AddrSpace) {
	frame, err := space.StorePage()
	Expect(err).NotTo(HaveOccurred())

	mem.Lock()
	mem.coreMap.Free(frame)
	mem.Unlock()
}

var _ = Describe("AddrSpace", func() {
	var (
		fs    *filesys.MemFS
		mem   *Memory
		space *AddrSpace
	)

	BeforeEach(func() {
		fs = filesys.NewMemFS()
		installPrograms(fs)
		mem = MakeBuilder().WithConfig(testConfig()).Build()

		var err error
		space, err = NewAddrSpace(mem, fs, "prog")
		Expect(err).NotTo(HaveOccurred())
	})

	Context("construction", func() {
		It("should size the space from the header", func() {
			Expect(space.NumPages()).To(Equal(5))
			Expect(space.StackTop()).To(Equal(5*128 - 16))
			Expect(space.Path()).To(Equal("prog"))

			for vpn := 0; vpn < 5; vpn++ {
				e, ok := space.Entry(vpn)
				Expect(ok).To(BeTrue())
				Expect(e.VirtualPage).To(Equal(vpn))
				Expect(e.Valid).To(BeFalse())
				Expect(e.PhysicalPage).To(Equal(-1))
			}

			Expect(mem.NumFreeFrames()).To(Equal(4))
		})

		It("should reject a missing executable", func() {
			_, err := NewAddrSpace(mem, fs, "nope")
			Expect(err).To(MatchError(ErrBadExecutable))
		})

		It("should reject a file that is not NOFF", func() {
			fs.WriteFile("junk", bytes.Repeat([]byte("junk"), 20))

			_, err := NewAddrSpace(mem, fs, "junk")
			Expect(err).To(MatchError(ErrBadExecutable))
		})

		It("should reject a negative segment size", func() {
			h := noff.Header{
				Magic:      noff.Magic,
				UninitData: noff.Segment{Size: -4096},
			}
			image, _ := h.MarshalBinary()
			fs.WriteFile("negative", image)

			_, err := NewAddrSpace(mem, fs, "negative")
			Expect(err).To(MatchError(ErrBadExecutable))
			Expect(err).To(MatchError(noff.ErrBadSegment))
		})

		It("should reject a program larger than the swap area", func() {
			fs.WriteFile("huge", noff.Build(codeBytes(10), nil, 64*128))

			_, err := NewAddrSpace(mem, fs, "huge")
			Expect(err).To(MatchError(ErrBadExecutable))
			Expect(mem.Swap().FreeSectors).To(Equal(64))
		})
	})

	Context("demand loading", func() {
		It("should fill code pages from the executable", func() {
			frame, err := space.LoadPage(0)
			Expect(err).NotTo(HaveOccurred())

			Expect(frameContent(mem, frame)).To(Equal(codeBytes(200)[:128]))
		})

		It("should fill pages that mix code and data", func() {
			frame, err := space.LoadPage(1)
			Expect(err).NotTo(HaveOccurred())

			content := frameContent(mem, frame)
			Expect(content[:72]).To(Equal(codeBytes(200)[128:]))
			Expect(content[72:]).To(Equal(dataBytes(56)))
		})

		It("should zero everything past the initialized data", func() {
			frame, err := space.LoadPage(2)
			Expect(err).NotTo(HaveOccurred())

			content := frameContent(mem, frame)
			Expect(content[:4]).To(Equal(dataBytes(4)))
			Expect(content[4:]).To(Equal(make([]byte, 124)))
		})

		It("should be idempotent", func() {
			first, err := space.LoadPage(3)
			Expect(err).NotTo(HaveOccurred())

			second, err := space.LoadPage(3)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(first).To(BeNumerically(">=", 0))
			Expect(first).To(BeNumerically("<", 4))

			e, _ := space.Entry(3)
			Expect(e.Valid).To(BeTrue())
			Expect(e.PhysicalPage).To(Equal(first))
			Expect(mem.CheckRefCounts()).To(Succeed())
		})

		It("should fault outside the space", func() {
			_, err := space.LoadPage(5)
			Expect(err).To(MatchError(ErrSegFault))

			_, err = space.LoadPage(-1)
			Expect(err).To(MatchError(ErrSegFault))
		})

		It("should fail when the executable is gone", func() {
			Expect(fs.Remove("prog")).To(Succeed())

			_, err := space.LoadPage(0)
			Expect(err).To(MatchError(ErrBadExecutable))
			Expect(mem.NumFreeFrames()).To(Equal(4))

			_, err = space.LoadPage(4)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("eviction", func() {
		It("should reuse a frame of the space when memory is full", func() {
			for vpn := 0; vpn < 4; vpn++ {
				_, err := space.LoadPage(vpn)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(mem.NumFreeFrames()).To(Equal(0))

			_, err := space.LoadPage(4)
			Expect(err).NotTo(HaveOccurred())

			resident := 0
			for vpn := 0; vpn < 5; vpn++ {
				if e, _ := space.Entry(vpn); e.Valid {
					resident++
				}
			}

			Expect(resident).To(Equal(4))
			Expect(mem.CheckRefCounts()).To(Succeed())
		})

		It("should evict another page when frames are held elsewhere", func() {
			small, err := NewAddrSpace(mem, fs, "small")
			Expect(err).NotTo(HaveOccurred())
			Expect(small.NumPages()).To(Equal(4))

			for vpn := 0; vpn < 2; vpn++ {
				_, err = small.LoadPage(vpn)
				Expect(err).NotTo(HaveOccurred())
				_, err = space.LoadPage(vpn)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(mem.NumFreeFrames()).To(Equal(0))

			_, err = small.LoadPage(2)
			Expect(err).NotTo(HaveOccurred())

			e0, _ := small.Entry(0)
			e1, _ := small.Entry(1)
			e2, _ := small.Entry(2)
			Expect(e2.Valid).To(BeTrue())
			Expect(e0.Valid && e1.Valid).To(BeFalse())

			for vpn := 0; vpn < 2; vpn++ {
				e, _ := space.Entry(vpn)
				Expect(e.Valid).To(BeTrue())
			}

			Expect(mem.CheckRefCounts()).To(Succeed())
		})

		It("should write dirty pages to swap and read them back", func() {
			Expect(space.WriteString(300, "swapped")).To(Succeed())

			evict(mem, space)

			e, _ := space.Entry(2)
			Expect(e.Valid).To(BeFalse())
			Expect(space.IsOnDisk(2)).To(BeTrue())

			Expect(space.ReadString(300)).To(Equal("swapped"))
		})

		It("should keep the swap sector of a page", func() {
			Expect(space.WriteString(300, "first")).To(Succeed())
			evict(mem, space)

			sector, ok := space.SectorOf(2)
			Expect(ok).To(BeTrue())

			for i := 0; i < 3; i++ {
				Expect(space.WriteString(300, "again")).To(Succeed())
				evict(mem, space)

				again, _ := space.SectorOf(2)
				Expect(again).To(Equal(sector))
			}

			Expect(mem.Swap().FreeSectors).To(Equal(63))
		})

		It("should drop clean pages without writing them", func() {
			_, err := space.LoadPage(0)
			Expect(err).NotTo(HaveOccurred())

			evict(mem, space)

			Expect(space.IsOnDisk(0)).To(BeFalse())
			Expect(mem.Swap().FreeSectors).To(Equal(64))
		})

		It("should never evict a shared page", func() {
			Expect(space.AllocateSharedMemory(1, 100, ShmCreate)).To(Succeed())

			addr, err := space.AttachSharedMemory(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal(5 * 128))
			Expect(space.WriteString(addr, "shared")).To(Succeed())

			before, _ := space.Entry(5)

			for round := 0; round < 3; round++ {
				for vpn := 0; vpn < 5; vpn++ {
					_, err = space.LoadPage(vpn)
					Expect(err).NotTo(HaveOccurred())
				}
			}

			after, _ := space.Entry(5)
			Expect(after.Valid).To(BeTrue())
			Expect(after.PhysicalPage).To(Equal(before.PhysicalPage))
			Expect(space.ReadString(addr)).To(Equal("shared"))
			Expect(mem.CheckRefCounts()).To(Succeed())
		})

		It("should fail when only shared pages are resident", func() {
			cfg := testConfig()
			cfg.NumPhysPages = 2
			mem = MakeBuilder().WithConfig(cfg).Build()

			var err error
			space, err = NewAddrSpace(mem, fs, "prog")
			Expect(err).NotTo(HaveOccurred())

			Expect(space.AllocateSharedMemory(1, 256, ShmCreate)).To(Succeed())
			_, err = space.AttachSharedMemory(1)
			Expect(err).NotTo(HaveOccurred())

			_, err = space.LoadPage(0)
			Expect(err).To(MatchError(ErrNoVictim))
		})

		It("should yield while the swap disk is busy", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			defer mockCtrl.Finish()

			sched := NewMockScheduler(mockCtrl)
			disk := machine.NewSimDisk(64, 128)
			mem = MakeBuilder().
				WithConfig(testConfig()).
				WithDisk(disk).
				WithScheduler(sched).
				Build()

			var err error
			space, err = NewAddrSpace(mem, fs, "prog")
			Expect(err).NotTo(HaveOccurred())
			Expect(space.WriteString(300, "busy")).To(Succeed())

			disk.InjectBusy(2)
			sched.EXPECT().Yield().Times(2).Do(func() {
				Expect(mem.TryLock()).To(BeTrue())
				mem.Unlock()
			})

			evict(mem, space)

			_, writes := disk.Stats()
			Expect(writes).To(Equal(1))
		})

		Context("when other spaces hold every frame", func() {
			var (
				mockCtrl *gomock.Controller
				sched    *MockScheduler
				child    *AddrSpace
			)

			BeforeEach(func() {
				mockCtrl = gomock.NewController(GinkgoT())
				sched = NewMockScheduler(mockCtrl)
				mem = MakeBuilder().
					WithConfig(testConfig()).
					WithScheduler(sched).
					Build()

				var err error
				space, err = NewAddrSpace(mem, fs, "prog")
				Expect(err).NotTo(HaveOccurred())
				Expect(space.WriteString(300, "kept")).To(Succeed())

				for vpn := 0; vpn < 4; vpn++ {
					_, err = space.LoadPage(vpn)
					Expect(err).NotTo(HaveOccurred())
				}

				child, err = space.Fork()
				Expect(err).NotTo(HaveOccurred())
			})

			AfterEach(func() {
				mockCtrl.Finish()
			})

			It("should yield until a frame comes free", func() {
				sched.EXPECT().Yield().Do(func() {
					space.Release()
				})

				_, err := child.LoadPage(4)
				Expect(err).NotTo(HaveOccurred())

				Expect(child.ReadString(300)).To(Equal("kept"))
				Expect(mem.CheckRefCounts()).To(Succeed())
			})

			It("should give up after a few yields", func() {
				sched.EXPECT().Yield().Times(maxVictimRetries)

				_, err := child.LoadPage(4)
				Expect(err).To(MatchError(ErrNoVictim))
			})
		})
	})

	Context("victim selection", func() {
		setBits := func(vpn int, use, dirty, readOnly bool) {
			mem.Lock()
			defer mem.Unlock()

			e, _ := space.pageTable.Find(vpn)
			e.Use, e.Dirty, e.ReadOnly = use, dirty, readOnly
		}

		useBit := func(vpn int) bool {
			e, _ := space.Entry(vpn)
			return e.Use
		}

		cursor := func() int {
			mem.Lock()
			defer mem.Unlock()

			return space.victim
		}

		evicted := func() int {
			frame, err := space.StorePage()
			Expect(err).NotTo(HaveOccurred())

			mem.Lock()
			mem.coreMap.Free(frame)
			mem.Unlock()

			vpn := -1
			for v := 0; v < 4; v++ {
				if e, _ := space.Entry(v); !e.Valid {
					Expect(vpn).To(Equal(-1))
					vpn = v
				}
			}

			return vpn
		}

		BeforeEach(func() {
			for vpn := 0; vpn < 4; vpn++ {
				_, err := space.LoadPage(vpn)
				Expect(err).NotTo(HaveOccurred())
				setBits(vpn, true, false, false)
			}
		})

		It("should prefer a writable page over a read-only one", func() {
			setBits(0, true, false, true)

			Expect(evicted()).To(Equal(1))
		})

		It("should prefer a clean page over a dirty one", func() {
			setBits(0, true, true, false)

			Expect(evicted()).To(Equal(1))
			Expect(mem.Swap().FreeSectors).To(Equal(64))
		})

		It("should prefer an unused page and stop there", func() {
			setBits(2, false, false, false)

			Expect(evicted()).To(Equal(2))
			Expect(cursor()).To(Equal(2))

			Expect(useBit(0)).To(BeTrue())
			Expect(useBit(1)).To(BeFalse())
			Expect(useBit(3)).To(BeTrue())
		})

		It("should give used pages a second chance", func() {
			Expect(evicted()).To(Equal(0))
			Expect(cursor()).To(Equal(0))

			Expect(useBit(1)).To(BeFalse())
			Expect(useBit(2)).To(BeFalse())
			Expect(useBit(3)).To(BeFalse())
		})

		It("should pick a cleared page on the next sweep", func() {
			Expect(evicted()).To(Equal(0))

			_, err := space.LoadPage(0)
			Expect(err).NotTo(HaveOccurred())

			Expect(evicted()).To(Equal(1))
			Expect(cursor()).To(Equal(1))
		})
	})

	Context("fork", func() {
		It("should share pages until one side writes", func() {
			Expect(space.WriteString(300, "parent")).To(Succeed())

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())

			pe, _ := space.Entry(2)
			ce, _ := child.Entry(2)
			Expect(pe.ReadOnly).To(BeTrue())
			Expect(ce.ReadOnly).To(BeTrue())
			Expect(ce.PhysicalPage).To(Equal(pe.PhysicalPage))
			Expect(mem.CheckRefCounts()).To(Succeed())

			Expect(child.WriteString(300, "child!")).To(Succeed())

			ce, _ = child.Entry(2)
			Expect(ce.ReadOnly).To(BeFalse())
			Expect(ce.Dirty).To(BeTrue())
			Expect(ce.PhysicalPage).NotTo(Equal(pe.PhysicalPage))

			Expect(space.ReadString(300)).To(Equal("parent"))
			Expect(child.ReadString(300)).To(Equal("child!"))
			Expect(mem.CheckRefCounts()).To(Succeed())

			frame, err := space.AllowWrites(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(frame).To(Equal(pe.PhysicalPage))

			pe, _ = space.Entry(2)
			Expect(pe.ReadOnly).To(BeFalse())
		})

		It("should leave writable private pages alone", func() {
			frame, err := space.LoadPage(1)
			Expect(err).NotTo(HaveOccurred())

			again, err := space.AllowWrites(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(frame))
			Expect(mem.CheckRefCounts()).To(Succeed())
		})

		It("should copy pages that only live in swap", func() {
			Expect(space.WriteString(300, "disk")).To(Succeed())
			evict(mem, space)

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())

			Expect(child.IsOnDisk(2)).To(BeTrue())
			parentSector, _ := space.SectorOf(2)
			childSector, _ := child.SectorOf(2)
			Expect(childSector).NotTo(Equal(parentSector))

			Expect(space.WriteString(300, "gone")).To(Succeed())
			Expect(child.ReadString(300)).To(Equal("disk"))
		})

		It("should keep shared memory shared", func() {
			Expect(space.AllocateSharedMemory(4, 10, ShmCreate)).To(Succeed())
			addr, err := space.AttachSharedMemory(4)
			Expect(err).NotTo(HaveOccurred())

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())

			e, _ := child.Entry(5)
			Expect(e.ReadOnly).To(BeFalse())

			Expect(child.WriteString(addr, "from child")).To(Succeed())
			Expect(space.ReadString(addr)).To(Equal("from child"))
			Expect(mem.CheckRefCounts()).To(Succeed())
		})

		It("should share open files", func() {
			Expect(fs.Create("f", 0)).To(Succeed())
			file, err := fs.Open("f")
			Expect(err).NotTo(HaveOccurred())

			fd := space.Files.Put(file)

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())
			Expect(child.Files.Get(fd)).To(BeIdenticalTo(file))
		})

		It("should keep inherited files open after the parent goes", func() {
			Expect(fs.Create("f", 0)).To(Succeed())
			file, err := fs.Open("f")
			Expect(err).NotTo(HaveOccurred())

			fd := space.Files.Put(file)

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())

			space.Release()

			n, err := child.Files.Get(fd).Write([]byte("hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(5))

			child.Release()

			_, err = file.Write([]byte("x"))
			Expect(err).To(MatchError(filesys.ErrClosed))
		})

		It("should return everything on release", func() {
			Expect(space.WriteString(300, "x")).To(Succeed())
			Expect(space.WriteString(100, "y")).To(Succeed())
			evict(mem, space)

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())
			Expect(child.WriteString(100, "z")).To(Succeed())

			child.Release()
			Expect(mem.CheckRefCounts()).To(Succeed())
			Expect(space.ReadString(100)).To(Equal("y"))

			space.Release()
			space.Release()

			Expect(mem.NumFreeFrames()).To(Equal(4))
			Expect(mem.Swap().FreeSectors).To(Equal(64))

			_, err = space.LoadPage(0)
			Expect(err).To(MatchError(ErrReleased))
		})
	})

	Context("shared memory", func() {
		It("should report segments by flag", func() {
			Expect(space.AllocateSharedMemory(3, 10, ShmUse)).
				To(MatchError(ErrNoSegment))
			Expect(space.AllocateSharedMemory(3, 10, ShmCreate)).To(Succeed())
			Expect(space.AllocateSharedMemory(3, 10, ShmUse)).To(Succeed())
			Expect(space.AllocateSharedMemory(3, 10, ShmCreate)).
				To(MatchError(ErrSegmentExists))
			Expect(space.AllocateSharedMemory(3, 10, 5)).
				To(MatchError(ErrBadFlag))
		})

		It("should round sizes up to whole pages", func() {
			Expect(space.AllocateSharedMemory(3, 129, ShmCreate)).To(Succeed())
			Expect(mem.Swap().Segments).To(Equal(1))
			Expect(mem.NumFreeFrames()).To(Equal(2))

			_, err := space.AttachSharedMemory(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(space.NumPages()).To(Equal(7))
		})

		It("should refuse a mapping past the end", func() {
			Expect(space.AllocateSharedMemory(3, 256, ShmCreate)).To(Succeed())

			_, err := space.AttachShMem(3, 4)
			Expect(err).To(MatchError(ErrSegFault))

			_, err = space.AttachSharedMemory(8)
			Expect(err).To(MatchError(ErrNoSegment))
		})

		It("should delete the segment after the last space goes", func() {
			Expect(space.AllocateSharedMemory(3, 10, ShmCreate)).To(Succeed())
			_, err := space.AttachSharedMemory(3)
			Expect(err).NotTo(HaveOccurred())

			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())

			space.Release()
			Expect(mem.Swap().Segments).To(Equal(1))

			child.Release()
			Expect(mem.Swap().Segments).To(Equal(0))
			Expect(mem.NumFreeFrames()).To(Equal(4))
		})
	})

	Context("growing and shrinking", func() {
		It("should add unmapped pages", func() {
			Expect(space.AddMoreSpace(2)).To(Equal(5))
			Expect(space.NumPages()).To(Equal(7))

			e, _ := space.Entry(6)
			Expect(e.VirtualPage).To(Equal(6))
			Expect(e.Valid).To(BeFalse())

			_, err := space.LoadPage(6)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should release what it truncates", func() {
			Expect(space.WriteString(500, "stack")).To(Succeed())
			evict(mem, space)
			_, err := space.LoadPage(4)
			Expect(err).NotTo(HaveOccurred())

			space.TruncatePagesFrom(3)

			Expect(space.NumPages()).To(Equal(3))
			Expect(mem.NumFreeFrames()).To(Equal(4))
			Expect(mem.Swap().FreeSectors).To(Equal(64))
			Expect(mem.CheckRefCounts()).To(Succeed())
		})
	})

	Context("hooks", func() {
		var events []PagingEvent
		var positions []*sim.HookPos

		BeforeEach(func() {
			events = nil
			positions = nil
		})

		record := func(ctx sim.HookCtx) {
			positions = append(positions, ctx.Pos)
			events = append(events, ctx.Detail.(PagingEvent))
		}

		It("should report where pages come from", func() {
			space.SetPID(7)
			space.AcceptHook(sim.HookFunc(record))

			_, err := space.LoadPage(0)
			Expect(err).NotTo(HaveOccurred())
			_, err = space.LoadPage(4)
			Expect(err).NotTo(HaveOccurred())

			Expect(positions).To(Equal([]*sim.HookPos{
				HookPosPageIn, HookPosPageIn,
			}))
			Expect(events[0].Source).To(Equal(SourceExecutable))
			Expect(events[0].PID).To(Equal(7))
			Expect(events[1].Source).To(Equal(SourceZero))
			Expect(events[1].VPN).To(Equal(4))
		})

		It("should report swapping", func() {
			Expect(space.WriteString(300, "s")).To(Succeed())
			space.AcceptHook(sim.HookFunc(record))

			evict(mem, space)
			_, err := space.LoadPage(2)
			Expect(err).NotTo(HaveOccurred())

			Expect(positions).To(Equal([]*sim.HookPos{
				HookPosSwapOut, HookPosEvict, HookPosPageIn,
			}))
			Expect(events[0].Sector).To(BeNumerically(">=", 0))
			Expect(events[2].Source).To(Equal(SourceSwap))
		})

		It("should report copy on write", func() {
			Expect(space.WriteString(300, "s")).To(Succeed())
			child, err := space.Fork()
			Expect(err).NotTo(HaveOccurred())
			child.AcceptHook(sim.HookFunc(record))

			Expect(child.WriteString(300, "t")).To(Succeed())

			Expect(positions).To(ContainElement(HookPosCopyOnWrite))
		})

		It("should log paging events", func() {
			buf := new(bytes.Buffer)
			space.SetPID(3)
			space.AcceptHook(NewPagingLogger(log.New(buf, "", 0)))

			_, err := space.LoadPage(0)
			Expect(err).NotTo(HaveOccurred())

			Expect(buf.String()).
				To(Equal("pid 3: page 0 in frame 0 from executable\n"))
		})
	})
})
