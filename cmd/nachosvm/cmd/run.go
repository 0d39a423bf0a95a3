package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"

	"github.com/pkg/browser"
	"github.com/sarchlab/nachosvm/datarecording"
	"github.com/sarchlab/nachosvm/monitoring"
	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/userprog"
	"github.com/sarchlab/nachosvm/vm"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var runCmd = &cobra.Command{
	Use:   "run [executable]",
	Short: "Run a NOFF executable, touching every page.",
	Long: "`run [executable]` loads a NOFF executable into an in-memory file " +
		"system and runs it as the first process. The process reads every " +
		"page and writes the pages past the code segment, then the frame " +
		"and swap state is printed.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		flags := cmd.Flags()

		fork, _ := flags.GetBool("fork")
		verbose, _ := flags.GetBool("verbose")
		record, _ := flags.GetBool("record")
		monitor, _ := flags.GetBool("monitor")
		open, _ := flags.GetBool("open")

		if path, _ := flags.GetString("record-path"); path != "" {
			cfg.RecordPath = path
			record = true
		}

		image, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("Error reading executable: %v", err)
		}

		out := cmd.OutOrStdout()

		k, _, err := newKernel(cfg, image, fork, out)
		if err != nil {
			log.Fatalf("Error loading executable: %v", err)
		}

		if verbose {
			logger := log.New(os.Stderr, "", 0)
			k.AcceptPagingHook(vm.NewPagingLogger(logger))
			k.AcceptHook(userprog.NewSyscallLogger(logger))
		}

		if record {
			attachRecorder(k, cfg.RecordPath)
		}

		if monitor {
			m := monitoring.NewMonitor()
			if cfg.MonitorPort != 0 {
				m.WithPortNumber(cfg.MonitorPort)
			}

			m.RegisterKernel(k)
			url := m.StartServer()

			if open {
				if err := browser.OpenURL(url + "/api/processes"); err != nil {
					log.Printf("Error opening browser: %v", err)
				}
			}
		}

		stats := newRunStats(k)

		if _, err := k.StartProcess(programName); err != nil {
			log.Fatalf("Error starting process: %v", err)
		}

		<-k.Done()

		stats.print(out, k.Memory())

		if monitor {
			fmt.Fprintln(os.Stderr, "Press Ctrl-C to stop the monitoring server.")
			waitForInterrupt()
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.Bool("fork", false,
		"Fork a child that writes every page again.")
	flags.BoolP("verbose", "v", false,
		"Log paging events and system calls to stderr.")
	flags.Bool("record", false,
		"Record events into an SQLite database.")
	flags.String("record-path", "",
		"Path of the recording, without the .sqlite3 extension.")
	flags.Bool("monitor", false,
		"Serve the kernel state over HTTP.")
	flags.Bool("open", false,
		"Open the monitoring server in a browser.")
}

func attachRecorder(k *userprog.Kernel, path string) {
	recorder, err := datarecording.New(path)
	if err != nil {
		log.Fatalf("Error creating recording: %v", err)
	}

	hook, err := datarecording.NewKernelRecorder(recorder)
	if err != nil {
		log.Fatalf("Error creating recording: %v", err)
	}

	k.AcceptHook(hook)
	k.AcceptPagingHook(hook)

	atexit.Register(func() {
		if err := hook.Err(); err != nil {
			log.Printf("Error recording events: %v", err)
		}

		if err := recorder.Close(); err != nil {
			log.Printf("Error closing recording: %v", err)
		}
	})
}

func waitForInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
}

// runStats counts the events of one run.
type runStats struct {
	sync.Mutex
	events   map[string]int
	statuses map[int]int
}

func newRunStats(k *userprog.Kernel) *runStats {
	s := &runStats{
		events:   make(map[string]int),
		statuses: make(map[int]int),
	}

	hook := sim.HookFunc(func(ctx sim.HookCtx) {
		s.Lock()
		defer s.Unlock()

		if ctx.Pos == userprog.HookPosProcessExit {
			s.statuses[ctx.Item.(*process.Process).ID] = ctx.Detail.(int)
			return
		}

		s.events[ctx.Pos.Name]++
	})

	k.AcceptHook(hook)
	k.AcceptPagingHook(hook)

	return s
}

func (s *runStats) print(w io.Writer, mem *vm.Memory) {
	s.Lock()
	defer s.Unlock()

	ids := make([]int, 0, len(s.statuses))
	for id := range s.statuses {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		fmt.Fprintf(w, "process %d exited with status %d\n", id, s.statuses[id])
	}

	for _, name := range []string{
		vm.HookPosPageIn.Name,
		vm.HookPosEvict.Name,
		vm.HookPosSwapOut.Name,
		vm.HookPosCopyOnWrite.Name,
	} {
		fmt.Fprintf(w, "%-12s %d\n", name, s.events[name])
	}

	swap := mem.Swap()
	fmt.Fprintf(w, "frames: %d free of %d\n",
		mem.NumFreeFrames(), len(mem.Frames()))
	fmt.Fprintf(w, "swap: %d free of %d sectors\n",
		swap.FreeSectors, swap.NumSectors)
}
