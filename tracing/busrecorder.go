package tracing

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2"
	"github.com/sarchlab/ddr2ctrl/mem/ddr2/signal"
	"github.com/sarchlab/ddr2ctrl/sim/hooking"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Table names used by the SQLiteBusRecorder.
const (
	BusTable     = "ddr2_bus"
	EnqueueTable = "ddr2_enqueue"
)

// BusRecord is one row of the bus table. Only ticks that carry a command or
// change the clock enable are recorded.
type BusRecord struct {
	Cycle      uint64
	Controller string
	Kind       string
	ChipSelect uint32
	Bank       int
	Address    uint32
	CKE        bool
	ODT        bool
}

// EnqueueRecord is one row of the enqueue table.
type EnqueueRecord struct {
	Cycle      uint64
	Controller string
	Opcode     string
	Size       int
	Address    uint64
	Rank       int
}

type table struct {
	structType reflect.Type
	entries    []any
}

// SQLiteBusRecorder is a hook that stores the bus activity of controllers in
// an SQLite database. Entries are buffered and written in batches.
type SQLiteBusRecorder struct {
	*sql.DB

	dbName     string
	tables     map[string]*table
	batchSize  int
	entryCount int

	prevCKE map[string]bool
}

// NewSQLiteBusRecorder creates the database file path.sqlite3. An empty path
// picks a unique name. Buffered entries are flushed when the program exits
// through atexit.
func NewSQLiteBusRecorder(path string) *SQLiteBusRecorder {
	r := &SQLiteBusRecorder{
		dbName:    path,
		batchSize: 100000,
		tables:    make(map[string]*table),
		prevCKE:   make(map[string]bool),
	}

	r.Init()
	r.CreateTable(BusTable, BusRecord{})
	r.CreateTable(EnqueueTable, EnqueueRecord{})

	atexit.Register(func() { r.Flush() })

	return r
}

// Init establishes a connection to the database.
func (r *SQLiteBusRecorder) Init() {
	if r.dbName == "" {
		r.dbName = "ddr2_bus_" + xid.New().String()
	}

	filename := r.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for bus recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	r.DB = db
}

// Func records bus states and enqueued commands.
func (r *SQLiteBusRecorder) Func(ctx hooking.HookCtx) {
	name := domainName(ctx.Domain)

	switch ctx.Pos {
	case ddr2.HookPosBus:
		bus, ok := ctx.Item.(signal.BusState)
		if !ok {
			return
		}

		r.recordBus(name, bus)
	case ddr2.HookPosEnqueue:
		cmd, ok := ctx.Item.(ddr2.Command)
		if !ok {
			return
		}

		var cycle uint64
		if c, ok := ctx.Domain.(*ddr2.Comp); ok {
			cycle = c.Status().Cycle
		}

		r.InsertData(EnqueueTable, EnqueueRecord{
			Cycle:      cycle,
			Controller: name,
			Opcode:     cmd.Opcode.String(),
			Size:       cmd.Size,
			Address:    cmd.Address,
			Rank:       cmd.Rank,
		})
	}
}

func (r *SQLiteBusRecorder) recordBus(name string, bus signal.BusState) {
	kind := bus.EffectiveKind()

	prev, seen := r.prevCKE[name]
	r.prevCKE[name] = bus.CKE

	if kind == signal.CmdKindNoOp && seen && prev == bus.CKE {
		return
	}

	r.InsertData(BusTable, BusRecord{
		Cycle:      bus.Cycle,
		Controller: name,
		Kind:       kind.String(),
		ChipSelect: bus.ChipSelect,
		Bank:       bus.Bank,
		Address:    bus.Address,
		CKE:        bus.CKE,
		ODT:        bus.ODT,
	})
}

func isAllowedType(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	types := reflect.TypeOf(entry)

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)
		if !isAllowedType(field.Type.Kind()) {
			return errors.New("field " + field.Name + " cannot be stored")
		}
	}

	return nil
}

// CreateTable creates a table whose columns are the fields of sampleEntry.
func (r *SQLiteBusRecorder) CreateTable(tableName string, sampleEntry any) {
	err := checkStructFields(sampleEntry)
	if err != nil {
		panic(err)
	}

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")

	r.mustExecute(`CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`)

	r.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
}

// InsertData buffers an entry for a table that already exists.
func (r *SQLiteBusRecorder) InsertData(tableName string, entry any) {
	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("entry of type %T does not belong to table %s",
			entry, tableName))
	}

	t.entries = append(t.entries, entry)

	r.entryCount++
	if r.entryCount >= r.batchSize {
		r.Flush()
	}
}

// ListTables returns the names of all tables.
func (r *SQLiteBusRecorder) ListTables() []string {
	tables := make([]string, 0, len(r.tables))
	for t := range r.tables {
		tables = append(tables, t)
	}

	return tables
}

// Flush writes all the buffered entries into the database.
func (r *SQLiteBusRecorder) Flush() {
	if r.entryCount == 0 {
		return
	}

	tx, err := r.Begin()
	if err != nil {
		panic(err)
	}

	for tableName, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}

		r.insertAll(tx, tableName, t)
		t.entries = nil
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	r.entryCount = 0
}

func (r *SQLiteBusRecorder) insertAll(tx *sql.Tx, tableName string, t *table) {
	n := structs.Names(t.entries[0])
	for i := range n {
		n[i] = "?"
	}

	stmt, err := tx.Prepare("INSERT INTO " + tableName +
		" VALUES (" + strings.Join(n, ", ") + ")")
	if err != nil {
		panic(err)
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		_, err := stmt.Exec(structs.Values(entry)...)
		if err != nil {
			panic(err)
		}
	}
}

func (r *SQLiteBusRecorder) mustExecute(query string) sql.Result {
	res, err := r.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}
