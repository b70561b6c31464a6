// Package engine implements the incremental update engine: it buffers
// primary-keyed row fragments on input ports, maintains the canonical master
// table, computes per-cell transitions for every batch and fans the five
// transitional snapshots out to registered downstream contexts.
package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/l7mp/deltatable/pkg/expression"
	"github.com/l7mp/deltatable/pkg/port"
	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/state"
	"github.com/l7mp/deltatable/pkg/table"
)

// Output port indices. Consumers read by index; the layout is stable.
const (
	PortFlattened = iota
	PortDelta
	PortPrev
	PortCurrent
	PortTransitions
	PortExisted

	numOutputPorts
)

// ExistedColumn is the single BOOL column of the existed output table.
const ExistedColumn = "psp_existed"

// MainInputPort is the always-present input port.
const MainInputPort = 0

// Options configures an engine at construction.
type Options struct {
	// Logger receives engine diagnostics. Defaults to a discarding logger.
	Logger *logr.Logger
	// Config overrides the behavior switches. Defaults to ConfigFromEnv.
	Config *Config
}

// Engine is a single graph node. One control goroutine owns it; concurrent
// Process calls on the same engine are a programmer error, while distinct
// engines are fully independent.
type Engine struct {
	log logr.Logger
	cfg Config
	id  uint64

	inputSchema  *table.Schema
	outputSchema *table.Schema
	// Schemas of the six output ports: flattened (input schema), delta,
	// prev, current (output schema), transitions (UINT8 per output column)
	// and existed (one BOOL column).
	transitionalSchemas []*table.Schema

	inited     bool
	processing atomic.Bool
	wasUpdated bool

	state *state.State
	exprs *expression.Registry

	inputPorts      map[int]*port.Port
	lastInputPortID int
	oports          []*port.Port

	contexts map[string]*contextHandle
}

// New creates an engine over the given input and output schemas. Both must
// carry the reserved psp_pkey and psp_op columns. Call Init before use.
func New(input, output *table.Schema, opts Options) *Engine {
	log := logr.Discard()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	cfg := ConfigFromEnv()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	for _, s := range []*table.Schema{input, output} {
		if !s.Has(table.PKeyColumn) || !s.Has(table.OpColumn) {
			panic(fmt.Sprintf("engine: schema %s is missing a reserved column", s))
		}
	}

	transSchema := transitionsSchema(output)
	existedSchema := table.NewSchema().Add(ExistedColumn, scalar.DTypeBool)

	return &Engine{
		log:          log.WithName("gnode"),
		cfg:          cfg,
		inputSchema:  input.Clone(),
		outputSchema: output.Clone(),
		transitionalSchemas: []*table.Schema{
			input.Clone(), output.Clone(), output.Clone(), output.Clone(),
			transSchema, existedSchema,
		},
		inputPorts: make(map[int]*port.Port),
		contexts:   make(map[string]*contextHandle),
	}
}

// transitionsSchema derives the transitions-port schema: the output columns
// retyped to UINT8.
func transitionsSchema(output *table.Schema) *table.Schema {
	s := table.NewSchema()
	for _, name := range output.Columns() {
		s.Add(name, scalar.DTypeUint8)
	}
	return s
}

// Init builds the master state and the port set. One-shot: every other
// operation requires Init, and a second Init is a programmer error.
func (e *Engine) Init() {
	if e.inited {
		panic("engine: Init called twice")
	}

	e.state = state.New(e.inputSchema, e.outputSchema, e.log)
	e.exprs = expression.NewRegistry(e.log)

	// Force the shared expression vocabulary, installing the sentinel
	// intern at slot 0.
	e.exprs.Vocabulary()

	e.inputPorts[MainInputPort] = port.New(port.ModePKeyed, e.inputSchema)

	e.oports = make([]*port.Port, 0, numOutputPorts)
	for idx, s := range e.transitionalSchemas {
		mode := port.ModeRaw
		if idx == PortFlattened {
			mode = port.ModePKeyed
		}
		e.oports = append(e.oports, port.New(mode, s))
	}

	e.inited = true
	e.log.V(1).Info("engine initialized",
		"input-schema", e.inputSchema.String(), "output-schema", e.outputSchema.String())
}

// MakeInputPort creates a side-channel input port and returns its id.
func (e *Engine) MakeInputPort() int {
	e.ensureInit("MakeInputPort")
	e.lastInputPortID++
	e.inputPorts[e.lastInputPortID] = port.New(port.ModePKeyed, e.inputSchema)
	return e.lastInputPortID
}

// RemoveInputPort drops a side-channel port. Removing a nonexistent port is
// a user error: it is reported and ignored.
func (e *Engine) RemoveInputPort(portID int) {
	e.ensureInit("RemoveInputPort")
	p, ok := e.inputPorts[portID]
	if !ok {
		e.log.Error(nil, "input port cannot be removed, as it does not exist", "port", portID)
		return
	}
	p.Table().Clear()
	delete(e.inputPorts, portID)
}

// Send buffers a fragment on the given input port. Unknown ports are
// reported and ignored.
func (e *Engine) Send(portID int, fragment *table.Table) {
	e.ensureInit("Send")
	p, ok := e.inputPorts[portID]
	if !ok {
		e.log.Error(nil, "cannot send table to nonexistent port", "port", portID)
		return
	}
	p.Send(fragment)
}

// MappingSize returns the number of live primary keys in the master table.
func (e *Engine) MappingSize() int {
	e.ensureInit("MappingSize")
	return e.state.MappingSize()
}

// Table returns the live master table.
func (e *Engine) Table() *table.Table {
	e.ensureInit("Table")
	return e.state.Table()
}

// PKeyedTable returns the live primary-keyed master view.
func (e *Engine) PKeyedTable() *table.Table {
	e.ensureInit("PKeyedTable")
	return e.state.PKeyedTable()
}

// SortedPKeyedTable returns a copy of the live master rows sorted by
// primary key.
func (e *Engine) SortedPKeyedTable() *table.Table {
	e.ensureInit("SortedPKeyedTable")
	return e.state.SortedPKeyedTable()
}

// RowDataPKeys returns the master rows for the given keys.
func (e *Engine) RowDataPKeys(pkeys []scalar.Scalar) *table.Table {
	e.ensureInit("RowDataPKeys")
	return e.state.RowDataPKeys(pkeys)
}

// OutputTable returns the table behind an output port. Invalid indices are
// a programmer error.
func (e *Engine) OutputTable(portID int) *table.Table {
	e.ensureInit("OutputTable")
	if portID < 0 || portID >= len(e.oports) {
		panic(fmt.Sprintf("engine: invalid output port %d", portID))
	}
	return e.oports[portID].Table()
}

// InputTable returns the table buffered on an input port. Unknown ports are
// a programmer error.
func (e *Engine) InputTable(portID int) *table.Table {
	e.ensureInit("InputTable")
	p, ok := e.inputPorts[portID]
	if !ok {
		panic(fmt.Sprintf("engine: invalid input port %d", portID))
	}
	return p.Table()
}

// NumInputPorts returns the number of live input ports.
func (e *Engine) NumInputPorts() int { return len(e.inputPorts) }

// NumOutputPorts returns the number of output ports.
func (e *Engine) NumOutputPorts() int { return len(e.oports) }

// ReleaseInputs truncates every input port buffer.
func (e *Engine) ReleaseInputs() {
	for _, p := range e.inputPorts {
		p.Release()
	}
}

// ReleaseOutputs truncates every output port buffer.
func (e *Engine) ReleaseOutputs() {
	for _, p := range e.oports {
		p.Release()
	}
}

// ClearInputPorts clears the tables buffered on every input port.
func (e *Engine) ClearInputPorts() {
	e.ensureInit("ClearInputPorts")
	for _, p := range e.inputPorts {
		p.Table().Clear()
	}
}

// ClearOutputPorts clears the tables held by every output port.
func (e *Engine) ClearOutputPorts() {
	e.ensureInit("ClearOutputPorts")
	for _, p := range e.oports {
		p.Table().Clear()
	}
}

// PromoteColumn widens a column across the master table, the flattened
// output, every input port and the relevant schemas. Narrowing is rejected
// as a programmer error.
func (e *Engine) PromoteColumn(name string, to scalar.DType) {
	e.ensureInit("PromoteColumn")
	if !e.outputSchema.DType(name).PromotesTo(to) {
		panic(fmt.Sprintf("engine: cannot promote column %q from %s to %s",
			name, e.outputSchema.DType(name), to))
	}

	e.state.PromoteColumn(name, to)
	e.oports[PortFlattened].Promote(name, to)
	for _, p := range e.inputPorts {
		p.Promote(name, to)
	}

	e.outputSchema.Retype(name, to)
	e.inputSchema.Retype(name, to)
	e.transitionalSchemas[PortFlattened].Retype(name, to)
	for _, idx := range []int{PortDelta, PortPrev, PortCurrent} {
		e.transitionalSchemas[idx].Retype(name, to)
		if e.oports[idx].Table().HasColumn(name) {
			e.oports[idx].Table().PromoteColumn(name, to)
			e.oports[idx].Schema().Retype(name, to)
		}
	}
	e.log.V(1).Info("column promoted", "column", name, "dtype", to.String())
}

// Reset drops the master state and resets every context. Registrations and
// expressions are kept.
func (e *Engine) Reset() {
	e.ensureInit("Reset")
	for _, h := range e.contexts {
		h.ctx.Reset()
	}
	e.state.Reset()
}

// WasUpdated reports whether the last Process call changed the master.
func (e *Engine) WasUpdated() bool { return e.wasUpdated }

// ClearUpdated resets the update marker.
func (e *Engine) ClearUpdated() { e.wasUpdated = false }

// ID returns the engine identifier.
func (e *Engine) ID() uint64 { return e.id }

// SetID assigns the engine identifier.
func (e *Engine) SetID(id uint64) { e.id = id }

// Expressions returns the engine's expression registry.
func (e *Engine) Expressions() *expression.Registry {
	e.ensureInit("Expressions")
	return e.exprs
}

// InputSchema returns the engine's current input schema.
func (e *Engine) InputSchema() *table.Schema { return e.inputSchema }

// OutputSchema returns the engine's current output schema.
func (e *Engine) OutputSchema() *table.Schema { return e.outputSchema }

func (e *Engine) String() string {
	return fmt.Sprintf("gnode<%d>", e.id)
}

func (e *Engine) ensureInit(op string) {
	if !e.inited {
		panic(fmt.Sprintf("engine: cannot %s on an uninited engine", op))
	}
}
