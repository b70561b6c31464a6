package expression

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/deltatable/pkg/state"
	"github.com/l7mp/deltatable/pkg/table"
	"github.com/l7mp/deltatable/pkg/vocab"
)

// Sentinel interned into the shared vocabulary at initialization. Expression
// output on string columns reads slot 0 before any write lands there; the
// sentinel keeps that slot occupied. Do not remove: downstream readers
// depend on index 0 resolving.
const vocabSentinel = "__PSP_SENTINEL__"

// Registry maintains the alias-keyed set of registered expressions and the
// shared string vocabulary they intern into.
type Registry struct {
	log     logr.Logger
	order   []string
	exprs   map[string]*Computed
	vocab   *vocab.Vocabulary
}

func NewRegistry(log logr.Logger) *Registry {
	return &Registry{
		log:   log.WithName("expressions"),
		exprs: make(map[string]*Computed),
	}
}

// Vocabulary returns the shared expression vocabulary, initializing it
// lazily with the sentinel intern.
func (r *Registry) Vocabulary() *vocab.Vocabulary {
	if r.vocab == nil {
		r.vocab = vocab.New()
		r.vocab.Intern(vocabSentinel)
	}
	return r.vocab
}

// Register adds expressions to the registry, binding them to the shared
// vocabulary. Re-registering an alias replaces the previous expression.
func (r *Registry) Register(exprs ...*Computed) {
	for _, e := range exprs {
		e.bind(r.Vocabulary(), r.log)
		if _, ok := r.exprs[e.alias]; !ok {
			r.order = append(r.order, e.alias)
		}
		r.exprs[e.alias] = e
	}
}

// Unregister drops the expressions with the given aliases. Unknown aliases
// are ignored.
func (r *Registry) Unregister(aliases ...string) {
	for _, alias := range aliases {
		if _, ok := r.exprs[alias]; !ok {
			continue
		}
		delete(r.exprs, alias)
		for i, a := range r.order {
			if a == alias {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Len returns the number of registered expressions.
func (r *Registry) Len() int { return len(r.exprs) }

// Aliases returns the registered aliases in registration order.
func (r *Registry) Aliases() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the expression registered under alias, or nil.
func (r *Registry) Get(alias string) *Computed { return r.exprs[alias] }

// Compute evaluates every registered expression against each table in turn.
func (r *Registry) Compute(tables ...*table.Table) {
	for _, tbl := range tables {
		for _, alias := range r.order {
			r.exprs[alias].Compute(tbl)
		}
	}
}

// Recompute refreshes every registered expression in the master table for
// the rows resolved by lookup, and in every row of the flattened batch.
func (r *Registry) Recompute(master *state.State, flattened *table.Table, lookup []state.RLookup) {
	for _, alias := range r.order {
		r.exprs[alias].Recompute(master, flattened, lookup)
	}
}
