// Package monitoring turns a DDR2 bench into an HTTP server so that it can be
// inspected and steered while it runs.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
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
	"github.com/sarchlab/ddr2ctrl/mem/ddr2"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/bench"
	"github.com/sarchlab/ddr2ctrl/sim/naming"
	"github.com/sarchlab/ddr2ctrl/sim/queueing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor serves the state of a bench over HTTP and lets clients pause,
// continue and step it.
type Monitor struct {
	bench      *bench.Bench
	components map[string]any
	names      []string
	portNumber int

	profileDuration time.Duration

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a monitor for the bench. The controller, its protocol
// checker and every device model are registered as components.
func NewMonitor(b *bench.Bench) *Monitor {
	m := &Monitor{
		bench:           b,
		components:      make(map[string]any),
		profileDuration: time.Second,
	}

	ctrl := b.Controller()
	m.register(ctrl.Name(), ctrl)
	m.register(naming.BuildName(ctrl.Name(), "Checker"), b.Checker())

	for _, d := range b.Devices() {
		m.register(naming.BuildNameWithIndex(ctrl.Name(), "Rank", d.Rank()), d)
	}

	return m
}

func (m *Monitor) register(name string, c any) {
	m.components[name] = c
	m.names = append(m.names, name)
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

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pause)
	r.HandleFunc("/api/continue", m.continueBench)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/run/{cycles:[0-9]+}", m.run)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/violations", m.listViolations)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts serving in the background and returns the port the
// server listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr,
		"Monitoring DDR2 bench %s with http://localhost:%d\n",
		m.bench.ID(), port)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		if !errors.Is(err, net.ErrClosed) {
			dieOnErr(err)
		}
	}()

	return port
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.bench.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueBench(w http.ResponseWriter, _ *http.Request) {
	m.bench.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%d}", m.bench.Status().Cycle)
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.bench.Status())
}

const runChunk = 1000

// run advances the bench by the requested number of cycles in the
// background, reporting through a progress bar. The run holds while the
// bench is paused.
func (m *Monitor) run(w http.ResponseWriter, r *http.Request) {
	cycles, err := strconv.ParseUint(mux.Vars(r)["cycles"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	bar := m.CreateProgressBar(fmt.Sprintf("Run %d cycles", cycles), cycles)

	go func() {
		defer m.CompleteProgressBar(bar)

		for left := cycles; left > 0; {
			n := min(left, runChunk)
			m.bench.RunResumable(int(n))
			bar.IncrementFinished(n)
			left -= n
		}
	}()

	writeJSON(w, bar.snapshot())
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	m.bench.Do(func(*ddr2.Comp) {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(component)
		serializer.SetMaxDepth(1)
		err := serializer.Serialize(w)

		dieOnErr(err)
	})
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	m.bench.Do(func(*ddr2.Comp) {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(component)
		serializer.SetMaxDepth(1)

		err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: %s", err)

			return
		}

		err = serializer.Serialize(w)
		dieOnErr(err)
	})
}

type bufferRsp struct {
	Buffer string `json:"buffer"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := buffersParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	var rsp []bufferRsp

	m.bench.Do(func(ctrl *ddr2.Comp) {
		queues := sortAndSelectQueues(ctrl.Queues(), sortMethod, limit, offset)

		rsp = make([]bufferRsp, 0, len(queues))
		for _, q := range queues {
			rsp = append(rsp, bufferRsp{
				Buffer: q.Name(),
				Level:  q.Size(),
				Cap:    q.Capacity(),
			})
		}
	})

	writeJSON(w, rsp)
}

func buffersParseParams(r *http.Request) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
	}

	limit, err = queryInt(r, "limit")
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offset, err = queryInt(r, "offset")
	if err != nil {
		return sortMethod, limit, 0, err
	}

	return sortMethod, limit, offset, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}

	return n, nil
}

func queuePercent(q queueing.Queue) float64 {
	return float64(q.Size()) / float64(q.Capacity())
}

// sortAndSelectQueues orders the queues by level or by fill ratio, fullest
// first, and returns the page selected by offset and limit. A limit of 0
// selects everything after offset.
func sortAndSelectQueues(
	queues []queueing.Queue,
	sortMethod string,
	limit, offset int,
) []queueing.Queue {
	sorted := make([]queueing.Queue, len(queues))
	copy(sorted, queues)

	byLevel := func(i, j int) int {
		return sorted[i].Size() - sorted[j].Size()
	}
	byPercent := func(i, j int) int {
		pi, pj := queuePercent(sorted[i]), queuePercent(sorted[j])
		switch {
		case pi > pj:
			return 1
		case pi < pj:
			return -1
		default:
			return 0
		}
	}

	first, second := byPercent, byLevel
	if sortMethod == "level" {
		first, second = byLevel, byPercent
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if c := first(i, j); c != 0 {
			return c > 0
		}

		return second(i, j) > 0
	})

	if offset >= len(sorted) {
		return nil
	}

	end := len(sorted)
	if limit > 0 {
		end = min(end, offset+limit)
	}

	return sorted[offset:end]
}

func (m *Monitor) listViolations(w http.ResponseWriter, _ *http.Request) {
	var rsp []violationRsp

	m.bench.Do(func(*ddr2.Comp) {
		for _, v := range m.bench.Checker().Violations() {
			rsp = append(rsp, violationRsp{
				Cycle:  v.Cycle,
				Rank:   v.Rank,
				Bank:   v.Bank,
				Rule:   string(v.Rule),
				Detail: v.Detail,
			})
		}
	})

	if rsp == nil {
		rsp = []violationRsp{}
	}

	writeJSON(w, rsp)
}

type violationRsp struct {
	Cycle  uint64 `json:"cycle"`
	Rank   int    `json:"rank"`
	Bank   int    `json:"bank"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

func (m *Monitor) findComponentOr404(w http.ResponseWriter, name string) any {
	component, found := m.components[name]
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Component not found"))
		dieOnErr(err)

		return nil
	}

	return component
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memory, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
