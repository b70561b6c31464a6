package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltatable/pkg/engine"
	"github.com/l7mp/deltatable/pkg/expression"
	"github.com/l7mp/deltatable/pkg/scalar"
	"github.com/l7mp/deltatable/pkg/table"
)

var _ = Describe("Process", func() {
	var e *engine.Engine

	BeforeEach(func() {
		e = newQuoteEngine()
	})

	Describe("first batch", func() {
		It("should seed the master from an insert-only batch", func() {
			send(e, row{1, ins, 1.0}, row{2, ins, 2.0}, row{3, ins, 3.0})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())

			Expect(e.MappingSize()).To(Equal(3))
			Expect(masterValue(e, 1, "v").Float()).To(Equal(1.0))
			Expect(masterValue(e, 2, "v").Float()).To(Equal(2.0))
			Expect(masterValue(e, 3, "v").Float()).To(Equal(3.0))
		})

		It("should release the input buffer", func() {
			send(e, row{1, ins, 1.0})
			e.Process(engine.MainInputPort)
			Expect(e.InputTable(engine.MainInputPort).NumRows()).To(Equal(0))
		})

		It("should drop a delete of an unknown key", func() {
			send(e, row{7, del, nil})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())
			Expect(e.MappingSize()).To(Equal(0))
			Expect(e.OutputTable(engine.PortFlattened).NumRows()).To(Equal(0))
		})

		It("should match seeding master from the flattened batch directly", func() {
			frag := fragment(e.InputSchema(),
				row{1, ins, 1.0}, row{2, ins, 2.0}, row{1, ins, 1.5}, row{3, del, nil})

			e.Send(engine.MainInputPort, frag)
			e.Process(engine.MainInputPort)

			reference := newQuoteEngine()
			reference.Send(engine.MainInputPort, frag.Flatten())
			reference.Process(engine.MainInputPort)

			Expect(tablesEqual(e.Table(), reference.Table())).To(BeTrue())
			Expect(e.MappingSize()).To(Equal(reference.MappingSize()))
		})
	})

	Describe("incremental batches", func() {
		BeforeEach(func() {
			send(e, row{1, ins, 1.0}, row{2, ins, 2.0}, row{3, ins, 3.0})
			e.Process(engine.MainInputPort)
		})

		It("should mark brand new rows as not existed", func() {
			send(e, row{4, ins, 4.0}, row{5, ins, 5.0})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())

			Expect(existedOf(e)).To(Equal([]bool{false, false}))
			Expect(transitionsOf(e, "v")).To(Equal([]engine.Transition{engine.TransNeqFT, engine.TransNeqFT}))
			Expect(e.OutputTable(engine.PortPrev).Column("v").IsValid(0)).To(BeFalse())
			Expect(e.OutputTable(engine.PortCurrent).Column("v").Float(0)).To(Equal(4.0))
		})

		It("should update an existing row", func() {
			send(e, row{2, ins, 2.5})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())

			Expect(masterValue(e, 2, "v").Float()).To(Equal(2.5))
			Expect(transitionsOf(e, "v")).To(Equal([]engine.Transition{engine.TransNeqTT}))
			Expect(e.OutputTable(engine.PortPrev).Column("v").Float(0)).To(Equal(2.0))
			Expect(e.OutputTable(engine.PortCurrent).Column("v").Float(0)).To(Equal(2.5))
			Expect(existedOf(e)).To(Equal([]bool{true}))
		})

		It("should report an unchanged cell as EQ_TT", func() {
			send(e, row{2, ins, 2.0})
			e.Process(engine.MainInputPort)
			Expect(transitionsOf(e, "v")).To(Equal([]engine.Transition{engine.TransEqTT}))
		})

		It("should collapse delete-then-insert of the same key to NEQ_TDT", func() {
			send(e, row{2, del, nil}, row{2, ins, 9.0})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())

			flat := e.OutputTable(engine.PortFlattened)
			Expect(flat.NumRows()).To(Equal(1))
			Expect(flat.Op(0)).To(Equal(ins))

			Expect(transitionsOf(e, "v")).To(Equal([]engine.Transition{engine.TransNeqTDT}))
			Expect(e.OutputTable(engine.PortPrev).Column("v").Float(0)).To(Equal(2.0))
			Expect(e.OutputTable(engine.PortCurrent).Column("v").Float(0)).To(Equal(9.0))
			Expect(masterValue(e, 2, "v").Float()).To(Equal(9.0))
			Expect(e.MappingSize()).To(Equal(3))
		})

		It("should emit NEQ_TDF for a pure delete", func() {
			send(e, row{2, del, nil})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())

			Expect(e.MappingSize()).To(Equal(2))
			Expect(masterValue(e, 2, "v").IsValid()).To(BeFalse())
			Expect(transitionsOf(e, "v")).To(Equal([]engine.Transition{engine.TransNeqTDF}))
			Expect(e.OutputTable(engine.PortPrev).Column("v").Float(0)).To(Equal(2.0))
			Expect(e.OutputTable(engine.PortCurrent).Column("v").Float(0)).To(Equal(2.0))
			Expect(existedOf(e)).To(Equal([]bool{true}))

			flat := e.OutputTable(engine.PortFlattened)
			Expect(flat.NumRows()).To(Equal(1))
			Expect(flat.Op(0)).To(Equal(del))
		})

		It("should drop a delete of an unknown key from the mask", func() {
			send(e, row{7, del, nil})
			Expect(e.Process(engine.MainInputPort)).To(BeTrue())

			Expect(e.OutputTable(engine.PortFlattened).NumRows()).To(Equal(0))
			Expect(e.OutputTable(engine.PortExisted).NumRows()).To(Equal(0))
			Expect(e.MappingSize()).To(Equal(3))
		})

		It("should keep the transitional tables at the same row count", func() {
			send(e, row{2, ins, 2.5}, row{7, del, nil}, row{4, ins, 4.0}, row{3, del, nil})
			e.Process(engine.MainInputPort)

			n := e.OutputTable(engine.PortFlattened).NumRows()
			Expect(n).To(Equal(3))
			for _, p := range []int{engine.PortDelta, engine.PortPrev, engine.PortCurrent, engine.PortTransitions, engine.PortExisted} {
				Expect(e.OutputTable(p).NumRows()).To(Equal(n))
			}
		})

		It("should leave the delta table cleared for aggregating consumers", func() {
			send(e, row{2, ins, 2.5})
			e.Process(engine.MainInputPort)
			Expect(e.OutputTable(engine.PortDelta).Column("v").IsValid(0)).To(BeFalse())
		})

		It("should only write defined transition codes", func() {
			send(e, row{2, ins, 2.5}, row{4, ins, 4.0}, row{3, del, nil})
			e.Process(engine.MainInputPort)
			for _, tr := range transitionsOf(e, "v") {
				Expect(tr).To(BeNumerically("<=", uint8(engine.TransNeqTDF)))
			}
		})

		It("should keep master primary keys unique across a long sequence", func() {
			batches := [][]row{
				{{2, del, nil}, {2, ins, 20.0}},
				{{4, ins, 4.0}, {4, ins, 4.5}},
				{{1, del, nil}},
				{{1, ins, 10.0}, {5, ins, 5.0}},
				{{5, del, nil}, {5, ins, 50.0}, {5, del, nil}},
			}
			for _, b := range batches {
				send(e, b...)
				e.Process(engine.MainInputPort)
			}

			master := e.Table()
			seen := map[int64]bool{}
			pkeyCol := master.Column(table.PKeyColumn)
			for i := 0; i < master.NumRows(); i++ {
				if !pkeyCol.IsValid(i) {
					continue // tombstoned
				}
				pk := pkeyCol.Int(i)
				Expect(seen[pk]).To(BeFalse(), "duplicate pkey %d", pk)
				seen[pk] = true
			}
			Expect(e.MappingSize()).To(Equal(len(seen)))
		})
	})

	Describe("determinism", func() {
		It("should produce identical outputs for identical inputs", func() {
			e2 := newQuoteEngine()
			batches := [][]row{
				{{1, ins, 1.0}, {2, ins, 2.0}, {3, ins, 3.0}},
				{{2, ins, 2.5}, {4, ins, 4.0}, {1, del, nil}},
				{{3, del, nil}, {3, ins, 30.0}, {5, ins, 5.0}},
			}
			for _, b := range batches {
				send(e, b...)
				e.Process(engine.MainInputPort)
				send(e2, b...)
				e2.Process(engine.MainInputPort)
			}

			Expect(tablesEqual(e.Table(), e2.Table())).To(BeTrue())
			for p := engine.PortFlattened; p <= engine.PortExisted; p++ {
				Expect(tablesEqual(e.OutputTable(p), e2.OutputTable(p))).To(BeTrue(),
					"output port %d diverged", p)
			}
		})
	})

	Describe("string columns", func() {
		var se *engine.Engine

		strSchema := func() *table.Schema {
			return table.NewSchema().
				Add(table.PKeyColumn, scalar.DTypeInt64).
				Add(table.OpColumn, scalar.DTypeUint8).
				Add("s", scalar.DTypeStr)
		}

		sendStr := func(rows ...[3]any) {
			f := table.New(strSchema(), len(rows))
			f.SetNumRows(len(rows))
			for i, r := range rows {
				f.Column(table.PKeyColumn).SetInt(i, int64(r[0].(int)))
				f.Column(table.OpColumn).SetUint(i, uint64(r[1].(uint8)))
				if r[2] == nil {
					f.Column("s").SetValid(i, false)
				} else {
					f.Column("s").SetStr(i, r[2].(string))
				}
			}
			se.Send(engine.MainInputPort, f)
		}

		BeforeEach(func() {
			se = engine.New(strSchema(), strSchema(), engine.Options{Config: &engine.Config{}})
			se.Init()
			sendStr([3]any{1, ins, "a"}, [3]any{2, ins, nil})
			se.Process(engine.MainInputPort)
		})

		It("should fall current back to the previous value on an invalid update", func() {
			sendStr([3]any{1, ins, nil})
			se.Process(engine.MainInputPort)

			prev := se.OutputTable(engine.PortPrev).Column("s")
			current := se.OutputTable(engine.PortCurrent).Column("s")
			Expect(prev.IsValid(0)).To(BeTrue())
			Expect(prev.Str(0)).To(Equal("a"))
			Expect(current.IsValid(0)).To(BeTrue())
			Expect(current.Str(0)).To(Equal("a"))
			// Valid-to-invalid reads as a removed cell.
			Expect(transitionsOf(se, "s")).To(Equal([]engine.Transition{engine.TransNeqTF}))
		})

		It("should report invalid-to-invalid as EQ_TT", func() {
			sendStr([3]any{2, ins, nil})
			se.Process(engine.MainInputPort)
			Expect(transitionsOf(se, "s")).To(Equal([]engine.Transition{engine.TransEqTT}))
		})

		It("should carry master vocabulary indices in prev and current", func() {
			sendStr([3]any{1, ins, "b"})
			se.Process(engine.MainInputPort)

			masterCol := se.Table().Column("s")
			prev := se.OutputTable(engine.PortPrev).Column("s")
			current := se.OutputTable(engine.PortCurrent).Column("s")

			Expect(prev.Vocabulary()).To(BeIdenticalTo(masterCol.Vocabulary()))
			Expect(current.Vocabulary()).To(BeIdenticalTo(masterCol.Vocabulary()))
			Expect(prev.Str(0)).To(Equal("a"))
			Expect(current.Str(0)).To(Equal("b"))

			lk := se.RowDataPKeys([]scalar.Scalar{scalar.NewInt64(1)})
			Expect(lk.Column("s").Str(0)).To(Equal("b"))
			Expect(transitionsOf(se, "s")).To(Equal([]engine.Transition{engine.TransNeqTT}))
		})
	})

	Describe("column promotion", func() {
		It("should widen across master, ports and schemas", func() {
			s := table.NewSchema().
				Add(table.PKeyColumn, scalar.DTypeInt64).
				Add(table.OpColumn, scalar.DTypeUint8).
				Add("n", scalar.DTypeInt32)
			pe := engine.New(s, s, engine.Options{Config: &engine.Config{}})
			pe.Init()

			f := table.New(s, 1)
			f.SetNumRows(1)
			f.Column(table.PKeyColumn).SetInt(0, 1)
			f.Column(table.OpColumn).SetUint(0, uint64(ins))
			f.Column("n").SetInt(0, 41)
			pe.Send(engine.MainInputPort, f)
			pe.Process(engine.MainInputPort)

			pe.PromoteColumn("n", scalar.DTypeInt64)
			Expect(pe.OutputSchema().DType("n")).To(Equal(scalar.DTypeInt64))
			Expect(pe.InputSchema().DType("n")).To(Equal(scalar.DTypeInt64))
			Expect(pe.Table().Column("n").DType()).To(Equal(scalar.DTypeInt64))
			Expect(masterValue(pe, 1, "n").Int()).To(Equal(int64(41)))

			wide := table.NewSchema().
				Add(table.PKeyColumn, scalar.DTypeInt64).
				Add(table.OpColumn, scalar.DTypeUint8).
				Add("n", scalar.DTypeInt64)
			f2 := table.New(wide, 1)
			f2.SetNumRows(1)
			f2.Column(table.PKeyColumn).SetInt(0, 1)
			f2.Column(table.OpColumn).SetUint(0, uint64(ins))
			f2.Column("n").SetInt(0, 1<<40)
			pe.Send(engine.MainInputPort, f2)
			Expect(pe.Process(engine.MainInputPort)).To(BeTrue())
			Expect(masterValue(pe, 1, "n").Int()).To(Equal(int64(1 << 40)))
		})

		It("should reject narrowing", func() {
			pe := newQuoteEngine()
			Expect(func() { pe.PromoteColumn("v", scalar.DTypeFloat32) }).To(Panic())
		})
	})

	Describe("contexts", func() {
		var ctx *recordingContext

		BeforeEach(func() {
			ctx = &recordingContext{kind: engine.ZeroSidedContext}
		})

		It("should bind state and reset on registration", func() {
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			Expect(ctx.state).NotTo(BeNil())
			Expect(ctx.resets).To(Equal(1))
			Expect(ctx.updated).To(BeEmpty())
		})

		It("should update a context registered onto a non-empty master", func() {
			send(e, row{1, ins, 1.0})
			e.Process(engine.MainInputPort)

			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			Expect(ctx.updated).To(HaveLen(1))
			Expect(ctx.updated[0]).To(BeIdenticalTo(e.PKeyedTable()))
		})

		It("should notify every context after an incremental batch", func() {
			other := &recordingContext{kind: engine.OneSidedContext}
			e.RegisterContext("a", engine.ZeroSidedContext, ctx)
			e.RegisterContext("b", engine.OneSidedContext, other)

			send(e, row{1, ins, 1.0})
			e.Process(engine.MainInputPort)
			// First batch goes through UpdateFromState, not Notify.
			Expect(ctx.notified).To(BeEmpty())
			Expect(ctx.updated).To(HaveLen(1))

			send(e, row{1, ins, 2.0})
			e.Process(engine.MainInputPort)
			Expect(ctx.notified).To(HaveLen(1))
			Expect(other.notified).To(HaveLen(1))
			Expect(ctx.notified[0]).To(BeIdenticalTo(e.OutputTable(engine.PortFlattened)))
		})

		It("should list contexts with unread deltas", func() {
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			Expect(e.ContextsLastUpdated()).To(BeEmpty())

			send(e, row{1, ins, 1.0})
			e.Process(engine.MainInputPort)
			Expect(e.ContextsLastUpdated()).To(Equal([]string{"view"}))
		})

		It("should unregister cleanly", func() {
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			e.UnregisterContext("view")
			e.UnregisterContext("view")

			send(e, row{1, ins, 1.0})
			e.Process(engine.MainInputPort)
			Expect(ctx.notified).To(BeEmpty())
			Expect(ctx.updated).To(BeEmpty())
		})

		It("should reset contexts but keep registrations on Reset", func() {
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			send(e, row{1, ins, 1.0})
			e.Process(engine.MainInputPort)

			resets := ctx.resets
			e.Reset()
			Expect(e.MappingSize()).To(Equal(0))
			Expect(ctx.resets).To(Equal(resets + 1))
			Expect(e.RegisteredContexts()).To(HaveLen(1))
		})
	})

	Describe("expressions", func() {
		doubled := func() *expression.Computed {
			return expression.NewComputed("v2", scalar.DTypeFloat64,
				func(ctx expression.EvalCtx) scalar.Scalar {
					c := ctx.Table.Column("v")
					if !c.IsValid(ctx.Row) {
						return scalar.Invalid(scalar.DTypeFloat64)
					}
					return scalar.NewFloat64(2 * c.Float(ctx.Row))
				})
		}

		It("should compute context expressions on the first batch", func() {
			ctx := &recordingContext{kind: engine.ZeroSidedContext, exprs: []*expression.Computed{doubled()}}
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			Expect(e.Table().HasColumn("v2")).To(BeTrue())

			send(e, row{1, ins, 1.5})
			e.Process(engine.MainInputPort)
			Expect(masterValue(e, 1, "v2").Float()).To(Equal(3.0))
		})

		It("should compute expressions for a context registered late", func() {
			send(e, row{1, ins, 1.5})
			e.Process(engine.MainInputPort)

			ctx := &recordingContext{kind: engine.ZeroSidedContext, exprs: []*expression.Computed{doubled()}}
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)

			Expect(ctx.updated).To(HaveLen(1))
			Expect(masterValue(e, 1, "v2").Float()).To(Equal(3.0))
		})

		It("should carry expressions through incremental batches", func() {
			ctx := &recordingContext{kind: engine.ZeroSidedContext, exprs: []*expression.Computed{doubled()}}
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)

			send(e, row{1, ins, 1.0}, row{2, ins, 2.0})
			e.Process(engine.MainInputPort)

			send(e, row{1, ins, 5.0}, row{3, ins, 3.0})
			e.Process(engine.MainInputPort)

			Expect(masterValue(e, 1, "v2").Float()).To(Equal(10.0))
			Expect(masterValue(e, 3, "v2").Float()).To(Equal(6.0))

			Expect(e.OutputTable(engine.PortTransitions).HasColumn("v2")).To(BeTrue())
			Expect(e.OutputTable(engine.PortPrev).Column("v2").Float(0)).To(Equal(2.0))
			Expect(e.OutputTable(engine.PortCurrent).Column("v2").Float(0)).To(Equal(10.0))
		})

		It("should drop context expressions on unregistration", func() {
			ctx := &recordingContext{kind: engine.ZeroSidedContext, exprs: []*expression.Computed{doubled()}}
			e.RegisterContext("view", engine.ZeroSidedContext, ctx)
			e.UnregisterContext("view")
			Expect(e.Expressions().Len()).To(Equal(0))
		})
	})
})
