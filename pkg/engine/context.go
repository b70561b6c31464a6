package engine

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/l7mp/deltatable/pkg/expression"
	"github.com/l7mp/deltatable/pkg/state"
	"github.com/l7mp/deltatable/pkg/table"
	"github.com/l7mp/deltatable/pkg/util"
)

// ContextKind tags the five downstream consumer shapes.
type ContextKind uint8

const (
	UnitContext ContextKind = iota
	ZeroSidedContext
	OneSidedContext
	TwoSidedContext
	GroupedPKeyContext
)

func (k ContextKind) String() string {
	switch k {
	case UnitContext:
		return "unit"
	case ZeroSidedContext:
		return "ctx0"
	case OneSidedContext:
		return "ctx1"
	case TwoSidedContext:
		return "ctx2"
	case GroupedPKeyContext:
		return "grouped_pkey"
	default:
		return fmt.Sprintf("ctx(%d)", uint8(k))
	}
}

// Context is the engine-side interface of a downstream consumer. The
// aggregation and traversal logic behind it lives outside the kernel.
// Notify is expected to be infallible; a panicking context aborts the batch.
type Context interface {
	// Reset clears the context's accumulated state.
	Reset()
	// Notify delivers the published flattened table after a batch.
	Notify(flattened *table.Table)
	// UpdateFromState rebuilds the context from a primary-keyed snapshot.
	UpdateFromState(tbl *table.Table)
	// HasDeltas reports whether the context accumulated changes since its
	// last read.
	HasDeltas() bool
}

// ExpressionProvider is implemented by contexts that bring derived columns.
// Unit contexts never do; the registration path switches on the kind once
// and skips the query for them.
type ExpressionProvider interface {
	Expressions() []*expression.Computed
}

// StateBinder is implemented by contexts that read master state obliquely.
// The bound state is a non-owning view: contexts must not retain it past
// unregistration.
type StateBinder interface {
	BindState(*state.State)
}

// contextHandle pairs a registered context with its kind tag.
type contextHandle struct {
	name string
	kind ContextKind
	ctx  Context
}

func (h *contextHandle) expressions() []*expression.Computed {
	if h.kind == UnitContext {
		return nil
	}
	if p, ok := h.ctx.(ExpressionProvider); ok {
		return p.Expressions()
	}
	return nil
}

// RegisterContext records a downstream consumer under name. Expressions the
// context brings are registered and, when the master already holds rows,
// computed against the primary-keyed master view before the context is
// initialized from it. The master table is extended with the new expression
// columns so later batches have a place to land.
func (e *Engine) RegisterContext(name string, kind ContextKind, ctx Context) {
	e.ensureInit("RegisterContext")

	h := &contextHandle{name: name, kind: kind, ctx: ctx}
	e.contexts[name] = h

	if b, ok := ctx.(StateBinder); ok {
		b.BindState(e.state)
	}
	ctx.Reset()

	exprs := h.expressions()
	e.exprs.Register(exprs...)

	if e.state.MappingSize() > 0 {
		pkeyed := e.state.PKeyedTable()
		if e.exprs.Len() > 0 {
			e.exprs.Compute(pkeyed)
		}
		ctx.UpdateFromState(pkeyed)
	}

	// Land the new expression columns on the master table so updates
	// processed before the next compute still find them.
	master := e.state.Table()
	for _, expr := range exprs {
		expr.MaterializeColumn(master)
	}

	e.log.V(1).Info("context registered", "name", name, "kind", kind.String(),
		"expressions", len(exprs))
}

// UnregisterContext drops a context and the expressions it brought. Unknown
// names are ignored.
func (e *Engine) UnregisterContext(name string) {
	e.ensureInit("UnregisterContext")
	h, ok := e.contexts[name]
	if !ok {
		return
	}
	if h.kind != UnitContext {
		e.exprs.Unregister(util.Map((*expression.Computed).Alias, h.expressions())...)
	}
	delete(e.contexts, name)
	e.log.V(1).Info("context unregistered", "name", name)
}

// notifyContexts fans the published flattened table out to every context.
// Contexts are independent: notification order is unspecified and delivery
// runs in parallel, with a barrier before Process returns.
func (e *Engine) notifyContexts(flattened *table.Table) {
	if len(e.contexts) == 0 {
		return
	}
	var group errgroup.Group
	for _, h := range e.contexts {
		h := h
		group.Go(func() error {
			h.ctx.Notify(flattened)
			return nil
		})
	}
	_ = group.Wait()
}

// updateContextsFromState resets every context and rebuilds it from tbl.
func (e *Engine) updateContextsFromState(tbl *table.Table) {
	for _, h := range e.contexts {
		h.ctx.Reset()
		h.ctx.UpdateFromState(tbl)
	}
}

// ContextsLastUpdated returns the names of contexts holding unread deltas,
// in sorted order. With the log_progress switch set the list is also traced.
func (e *Engine) ContextsLastUpdated() []string {
	e.ensureInit("ContextsLastUpdated")
	names := make([]string, 0, len(e.contexts))
	for name, h := range e.contexts {
		if h.ctx.HasDeltas() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if e.cfg.LogProgress {
		e.log.Info("contexts last updated", "contexts", names)
	}
	return names
}

// RegisteredContexts returns a printable descriptor per registered context.
func (e *Engine) RegisteredContexts() []string {
	e.ensureInit("RegisteredContexts")
	out := make([]string, 0, len(e.contexts))
	for name, h := range e.contexts {
		out = append(out, fmt.Sprintf("(ctx_name => %s, kind => %s)", name, h.kind))
	}
	sort.Strings(out)
	return out
}
