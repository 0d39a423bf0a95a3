// Package monitoring serves the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/userprog"
	psprocess "github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a kernel into a server that reports frames, swap usage,
// processes and event counts.
type Monitor struct {
	kernel     *userprog.Kernel
	portNumber int

	countsLock sync.Mutex
	counts     map[string]uint64
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		counts: make(map[string]uint64),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterKernel registers the kernel to monitor. It must be called before
// the first process starts so that paging events of every process are
// counted.
func (m *Monitor) RegisterKernel(k *userprog.Kernel) {
	m.kernel = k
	k.AcceptHook(m)
	k.AcceptPagingHook(m)
}

// Func counts kernel and paging events by hook position.
func (m *Monitor) Func(ctx sim.HookCtx) {
	m.countsLock.Lock()
	defer m.countsLock.Unlock()

	m.counts[ctx.Pos.Name]++
}

func (m *Monitor) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/swap", m.swapUsage)
	r.HandleFunc("/api/events", m.listEventCounts)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{id}", m.processDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring kernel with %s\n", url)

	r := m.newRouter()

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	return url
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.kernel.Memory().Frames())
}

type swapRsp struct {
	NumSectors  int `json:"num_sectors"`
	FreeSectors int `json:"free_sectors"`
	Segments    int `json:"segments"`
	FreeFrames  int `json:"free_frames"`
}

func (m *Monitor) swapUsage(w http.ResponseWriter, _ *http.Request) {
	mem := m.kernel.Memory()
	info := mem.Swap()

	writeJSON(w, swapRsp{
		NumSectors:  info.NumSectors,
		FreeSectors: info.FreeSectors,
		Segments:    info.Segments,
		FreeFrames:  mem.NumFreeFrames(),
	})
}

func (m *Monitor) listEventCounts(w http.ResponseWriter, _ *http.Request) {
	m.countsLock.Lock()
	counts := make(map[string]uint64, len(m.counts))
	for name, n := range m.counts {
		counts[name] = n
	}
	m.countsLock.Unlock()

	writeJSON(w, counts)
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	procs := m.kernel.Processes().List()
	sort.Slice(procs, func(i, j int) bool { return procs[i].ID < procs[j].ID })

	summaries := make([]process.Summary, 0, len(procs))
	for _, p := range procs {
		summaries = append(summaries, p.Summarize())
	}

	writeJSON(w, summaries)
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	p := m.findProcessOr404(w, mux.Vars(r)["id"])
	if p == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(p.Summarize())
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	PID       int    `json:"pid,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	p := m.findProcessOr404(w, strconv.Itoa(req.PID))
	if p == nil {
		return
	}

	mem := m.kernel.Memory()
	mem.Lock()
	defer mem.Unlock()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(p)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findProcessOr404(
	w http.ResponseWriter,
	idStr string,
) *process.Process {
	id, err := strconv.Atoi(idStr)
	if err == nil {
		if p, ok := m.kernel.Processes().Get(id); ok {
			return p
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err = w.Write([]byte("Process not found"))
	dieOnErr(err)

	return nil
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := psprocess.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
