package engine_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltatable/pkg/engine"
)

// flags: prevExisted, rowPreExisted, exists, prevValid, curValid, prevCurEq,
// prevPkeyEq
type transCase struct {
	flags [7]bool
	want  engine.Transition
}

func calc(cfg engine.Config, c transCase) engine.Transition {
	f := c.flags
	return cfg.CalcTransition(f[0], f[1], f[2], f[3], f[4], f[5], f[6])
}

var _ = Describe("CalcTransition", func() {
	var cfg engine.Config

	BeforeEach(func() {
		cfg = engine.Config{}
	})

	DescribeTable("default configuration",
		func(c transCase) {
			Expect(calc(cfg, c)).To(Equal(c.want))
		},
		Entry("new row, invalid cell",
			transCase{[7]bool{false, false, false, false, false, false, false}, engine.TransNeqFT}),
		Entry("existing row, invalid to invalid",
			transCase{[7]bool{false, true, false, false, false, false, false}, engine.TransEqTT}),
		Entry("existing row, newly valid cell",
			transCase{[7]bool{false, true, true, false, true, false, false}, engine.TransNveqFT}),
		Entry("present and equal",
			transCase{[7]bool{true, true, true, true, true, true, false}, engine.TransEqTT}),
		Entry("newly present",
			transCase{[7]bool{false, false, true, false, true, false, false}, engine.TransNeqFT}),
		Entry("removed",
			transCase{[7]bool{true, true, false, true, false, false, false}, engine.TransNeqTF}),
		Entry("present and changed",
			transCase{[7]bool{true, true, true, true, true, false, false}, engine.TransNeqTT}),
	)

	Context("with backout_invalid_neq_ft", func() {
		BeforeEach(func() {
			cfg.BackoutInvalidNeqFT = true
		})

		It("should report a newly-absent invalid cell as EQ_FF", func() {
			c := transCase{flags: [7]bool{false, false, false, false, false, false, false}}
			Expect(calc(cfg, c)).To(Equal(engine.TransEqFF))
		})
	})

	Context("with backout_eq_invalid_invalid", func() {
		BeforeEach(func() {
			cfg.BackoutEqInvalidInvalid = true
		})

		It("should fall through to EQ_FF for invalid-to-invalid updates", func() {
			c := transCase{flags: [7]bool{false, true, false, false, false, false, false}}
			Expect(calc(cfg, c)).To(Equal(engine.TransEqFF))
		})
	})

	Context("with backout_nveq_ft", func() {
		BeforeEach(func() {
			cfg.BackoutNveqFT = true
		})

		It("should report a newly valid cell as NEQ_FT", func() {
			c := transCase{flags: [7]bool{false, true, true, false, true, false, false}}
			Expect(calc(cfg, c)).To(Equal(engine.TransNeqFT))
		})
	})

	It("should be total over every consistent flag combination", func() {
		// prevExisted is derived as rowPreExisted && prevValid and exists as
		// curValid on inserts; sweep the underlying flags.
		for _, rowPre := range []bool{false, true} {
			for _, prevValid := range []bool{false, true} {
				for _, curValid := range []bool{false, true} {
					for _, eq := range []bool{false, true} {
						prevExisted := rowPre && prevValid
						prevCurEq := prevValid && curValid && eq
						Expect(func() {
							cfg.CalcTransition(prevExisted, rowPre, curValid,
								prevValid, curValid, prevCurEq, false)
						}).NotTo(Panic())
					}
				}
			}
		}
	})
})

var _ = Describe("engine.Transition", func() {
	It("should print every defined code", func() {
		for _, tr := range []engine.Transition{
			engine.TransEqFF, engine.TransEqTT, engine.TransNeqFT, engine.TransNeqTF,
			engine.TransNeqTT, engine.TransNveqFT, engine.TransNeqTDT, engine.TransNeqTDF,
		} {
			Expect(tr.String()).NotTo(ContainSubstring("TRANSITION("))
		}
	})
})
