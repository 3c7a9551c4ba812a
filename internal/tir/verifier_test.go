package tir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// expectRules verifies f and asserts the report contains exactly want, in order.
func expectRules(t *testing.T, f *Function, want ...Rule) *Report {
	t.Helper()
	r := Verify(f)
	got := r.Rules()
	if len(want) == 0 {
		want = []Rule{}
		if got == nil {
			got = []Rule{}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("violated rules mismatch (-want +got):\n%s\nreport:\n%s", diff, r)
	}
	return r
}

// lifetimes allocates buffers and releases them all at the end of the function.
type lifetimes struct {
	f      *Function
	allocs []ValueID
}

func (l *lifetimes) alloc(name string, ty *Type) ValueID {
	a := l.f.CreateAllocActivation(name, ty)
	l.allocs = append(l.allocs, a)
	return a
}

func (l *lifetimes) close() {
	for _, a := range l.allocs {
		l.f.CreateDeallocActivation("dealloc_"+l.f.Value(a).Name, a)
	}
}

func TestVerify_WellFormedFunction(t *testing.T) {
	f := NewFunction("main")
	l := &lifetimes{f: f}
	f32 := MustType(Float32, 4, 4)

	w := f.CreateWeightVar("w", f32, Constant)
	out := f.CreateWeightVar("out", MustQuantizedType(Int8Q, 0.5, 0, 4, 4), Mutable)
	a := l.alloc("a", f32)
	f.CreateCopy("c0", a, w)
	v := f.CreateTensorView("v", MustType(Float32, 16), a, []int{0, 0})
	b := l.alloc("b", MustType(Float32, 16))
	f.CreateCopy("c1", b, v)
	row := l.alloc("row", MustType(Float32, 1, 4))
	f.CreateInsertTensor("ins", a, row, []int{0, 0}, 4, 0)
	q := l.alloc("q", MustQuantizedType(Int8Q, 0.5, 0, 4, 4))
	f.CreateQuantize("quant", q, a)
	f.CreateCopy("c2", out, q)
	l.close()

	r := expectRules(t, f)
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
	assert.Equal(t, "ok", r.String())
	assert.NotPanics(t, func() { MustVerify(f) })
}

func TestVerify_CopyRequiresIdenticalTypes(t *testing.T) {
	f := NewFunction("main")
	l := &lifetimes{f: f}
	dest := l.alloc("dest", MustType(Float32, 4, 4))
	src := l.alloc("src", MustType(Float16, 4, 4))
	f.CreateCopy("c", dest, src)
	l.close()

	r := expectRules(t, f, RuleCopyType)
	viol := r.Violations[0]
	assert.Equal(t, CategoryTypeMismatch, viol.Category())
	assert.Equal(t, KindCopy, viol.Kind)
	assert.Equal(t, []string{"Dest %dest", "Src %src"}, viol.Operands)
	assert.Contains(t, viol.Error(), "TIR101: @main: Copy %c (Dest %dest, Src %src): Invalid type: dest float<4 x 4>, src float16<4 x 4>")
	assert.Contains(t, viol.Error(), "float<4 x 4>")
	assert.Contains(t, viol.Error(), "float16<4 x 4>")
	assert.Contains(t, viol.Error(), "%c = Copy @out %dest, @in %src")
}

func TestViolation_Summary(t *testing.T) {
	v := Violation{Rule: RuleInsertCount, Detail: "count is 0"}
	assert.Equal(t, "Count must be non-zero: count is 0", v.Summary())

	v.Detail = ""
	assert.Equal(t, "Count must be non-zero.", v.Summary())

	v = Violation{Rule: RuleDeallocCount, Detail: "%a has 2 deallocation(s)"}
	assert.Equal(t, "Invalid number of tensor deallocation: %a has 2 deallocation(s)", v.Summary())
}

func TestVerify_CopyQuantizationParametersMustMatch(t *testing.T) {
	f := NewFunction("main")
	l := &lifetimes{f: f}
	dest := l.alloc("dest", MustQuantizedType(Int8Q, 0.5, 0, 8))
	src := l.alloc("src", MustQuantizedType(Int8Q, 0.25, 0, 8))
	f.CreateCopy("c", dest, src)
	l.close()

	expectRules(t, f, RuleCopyType)
}

func TestVerify_CopyOperandsMustBeVariables(t *testing.T) {
	f := NewFunction("main")
	l := &lifetimes{f: f}
	qt := MustQuantizedType(Int8Q, 1, 0, 2)
	x := l.alloc("x", MustType(Float32, 2))
	y := l.alloc("y", qt)
	quant := f.CreateQuantize("quant", y, x)
	z := l.alloc("z", qt)
	f.CreateCopy("from_quant", z, quant)
	f.CreateCopy("into_quant", quant, z)
	l.close()

	expectRules(t, f, RuleCopySrcOperand, RuleCopyDestOperand)
}

func TestVerify_CopyIntoConstantWeight(t *testing.T) {
	ty := MustType(Float32, 3)

	f := NewFunction("main")
	l := &lifetimes{f: f}
	w := f.CreateWeightVar("w", ty, Constant)
	a := l.alloc("a", ty)
	f.CreateCopy("c", w, a)
	l.close()
	r := expectRules(t, f, RuleConstWrite)
	assert.Equal(t, CategoryAccess, r.Violations[0].Category())

	g := NewFunction("main")
	l = &lifetimes{f: g}
	w = g.CreateWeightVar("w", ty, Mutable)
	a = l.alloc("a", ty)
	g.CreateCopy("c", w, a)
	l.close()
	expectRules(t, g)
}

func TestVerify_TensorViewSizeSubsumption(t *testing.T) {
	tests := []struct {
		name string
		view *Type
		want []Rule
	}{
		{"larger view", MustType(Float32, 20), []Rule{RuleViewSize}},
		{"much larger view", MustType(Float32, 1<<20, 1<<8), []Rule{RuleViewSize}},
		{"same size", MustType(Float32, 16), nil},
		{"same size reshaped", MustType(Float32, 2, 8), nil},
		{"prefix", MustType(Float32, 4), nil},
		{"element kind change", MustType(Float16, 16), []Rule{RuleViewElemKind}},
		{"both", MustType(Bool, 32), []Rule{RuleViewSize, RuleViewElemKind}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFunction("main")
			l := &lifetimes{f: f}
			src := l.alloc("src", MustType(Float32, 16))
			f.CreateTensorView("v", tt.view, src, []int{0})
			l.close()
			expectRules(t, f, tt.want...)
		})
	}
}

func TestVerify_AllocationNeedsExactlyOneDeallocation(t *testing.T) {
	ty := MustType(Float32, 8)

	t.Run("none", func(t *testing.T) {
		f := NewFunction("main")
		f.CreateAllocActivation("a", ty)
		r := expectRules(t, f, RuleDeallocCount)
		assert.Equal(t, CategoryLifecycle, r.Violations[0].Category())
		assert.Contains(t, r.Violations[0].Error(), "Invalid number of tensor deallocation")
		assert.Contains(t, r.Violations[0].Error(), "has 0 deallocation(s)")
	})

	t.Run("two", func(t *testing.T) {
		f := NewFunction("main")
		a := f.CreateAllocActivation("a", ty)
		f.CreateDeallocActivation("d0", a)
		f.CreateDeallocActivation("d1", a)
		r := expectRules(t, f, RuleDeallocCount)
		assert.Contains(t, r.Violations[0].Error(), "has 2 deallocation(s)")
	})

	t.Run("one with many other users", func(t *testing.T) {
		f := NewFunction("main")
		w := f.CreateWeightVar("w", ty, Mutable)
		a := f.CreateAllocActivation("a", ty)
		f.CreateCopy("c0", a, w)
		f.CreateCopy("c1", w, a)
		f.CreateTensorView("v", MustType(Float32, 4), a, []int{0})
		f.CreateDeallocActivation("d", a)
		expectRules(t, f)
	})

	t.Run("dealloc of a dealloc does not count", func(t *testing.T) {
		f := NewFunction("main")
		a := f.CreateAllocActivation("a", ty)
		d := f.CreateDeallocActivation("d0", a)
		f.CreateDeallocActivation("d1", d)
		expectRules(t, f, RuleDeallocOperand)
	})
}

func TestVerify_DeallocationTarget(t *testing.T) {
	ty := MustType(Float32, 8)

	t.Run("weight", func(t *testing.T) {
		f := NewFunction("main")
		w := f.CreateWeightVar("w", ty, Mutable)
		f.CreateDeallocActivation("d", w)
		r := expectRules(t, f, RuleDeallocOperand)
		assert.Contains(t, r.Violations[0].Error(), "%w is produced by WeightVar")
	})

	t.Run("view", func(t *testing.T) {
		f := NewFunction("main")
		a := f.CreateAllocActivation("a", ty)
		v := f.CreateTensorView("v", ty, a, []int{0})
		f.CreateDeallocActivation("dv", v)
		f.CreateDeallocActivation("da", a)
		expectRules(t, f, RuleDeallocOperand)
	})

	t.Run("retargeted by a pass", func(t *testing.T) {
		f := NewFunction("main")
		w := f.CreateWeightVar("w", ty, Mutable)
		a := f.CreateAllocActivation("a", ty)
		d := f.CreateDeallocActivation("d", a)
		expectRules(t, f)

		require.NoError(t, f.SetOperand(f.Value(d).Def, 0, w))
		expectRules(t, f, RuleDeallocCount, RuleDeallocOperand)
	})
}

func TestVerify_InsertTensorBounds(t *testing.T) {
	tests := []struct {
		name  string
		src   *Type
		count int
		axis  int
		want  []Rule
	}{
		{"last axis", MustType(Float32, 2, 3, 1), 4, 2, nil},
		{"first axis", MustType(Float32, 1, 3, 4), 2, 0, nil},
		{"axis equals rank", MustType(Float32, 2, 3, 1), 1, 3, []Rule{RuleInsertAxis}},
		{"negative axis", MustType(Float32, 2, 3, 1), 1, -1, []Rule{RuleInsertAxis}},
		{"zero count", MustType(Float32, 2, 3, 1), 0, 2, []Rule{RuleInsertCount}},
		{"negative count", MustType(Float32, 2, 3, 1), -2, 2, []Rule{RuleInsertCount}},
		{"element kind", MustType(Float16, 2, 3, 1), 1, 2, []Rule{RuleInsertElemKind}},
		{"everything", MustType(Index64, 2), 0, 7, []Rule{RuleInsertElemKind, RuleInsertCount, RuleInsertAxis}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFunction("main")
			l := &lifetimes{f: f}
			dest := l.alloc("dest", MustType(Float32, 2, 3, 4))
			src := l.alloc("src", tt.src)
			f.CreateInsertTensor("ins", dest, src, []int{0, 0, 0}, tt.count, tt.axis)
			l.close()
			r := expectRules(t, f, tt.want...)
			for _, v := range r.Violations {
				if v.Rule != RuleInsertElemKind {
					assert.Equal(t, CategoryParameter, v.Category())
				}
			}
		})
	}
}

func TestVerify_QuantizeDirection(t *testing.T) {
	q8 := MustQuantizedType(Int8Q, 0.5, 0, 2, 3)
	tests := []struct {
		name string
		src  *Type
		dest *Type
		want []Rule
	}{
		{"float to i8", MustType(Float32, 2, 3), q8, nil},
		{"float16 to i32", MustType(Float16, 2, 3), MustQuantizedType(Int32Q, 0.1, 2, 2, 3), nil},
		{"shape change", MustType(Float32, 2, 3), MustQuantizedType(Int8Q, 0.5, 0, 3, 2), []Rule{RuleQuantizeShape}},
		{"already quantized", MustQuantizedType(Int8Q, 1, 0, 2, 3), q8, []Rule{RuleQuantizeSrcKind}},
		{"float destination", MustType(Float32, 2, 3), MustType(Float16, 2, 3), []Rule{RuleQuantizeDestKind}},
		{"i16 destination", MustType(Float32, 2, 3), MustQuantizedType(Int16Q, 0.5, 0, 2, 3), []Rule{RuleQuantizeDestKind}},
		{"index source", MustType(Index32, 6), q8, []Rule{RuleQuantizeSrcKind, RuleQuantizeShape}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFunction("main")
			l := &lifetimes{f: f}
			src := l.alloc("src", tt.src)
			dest := l.alloc("dest", tt.dest)
			f.CreateQuantize("q", dest, src)
			l.close()
			expectRules(t, f, tt.want...)
		})
	}
}

func TestVerify_WeightMutability(t *testing.T) {
	f := NewFunction("main")
	f.CreateWeightVar("w", MustType(Float32, 2), Mutability(9))
	r := expectRules(t, f, RuleWeightMutability)
	assert.Contains(t, r.Violations[0].Dump, "%w = WeightVar float<2> mutability(9)")
}

func TestVerify_IsIdempotent(t *testing.T) {
	f := NewFunction("main")
	a := f.CreateAllocActivation("a", MustType(Float32, 4))
	w := f.CreateWeightVar("w", MustType(Float16, 4), Constant)
	f.CreateCopy("c", a, w)
	f.CreateDeallocActivation("d", w)
	f.CreateInsertTensor("i", a, w, nil, 0, 1)

	first := Verify(f)
	second := Verify(f)
	require.False(t, first.OK())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second run differs (-first +second):\n%s", diff)
	}
}

func TestVerify_CollectsAllInProgramOrder(t *testing.T) {
	f := NewFunction("main")
	a := f.CreateAllocActivation("a", MustType(Float32, 4))
	b := f.CreateAllocActivation("b", MustType(Float16, 4))
	f.CreateCopy("c", a, b)
	f.CreateDeallocActivation("d", a)

	r := expectRules(t, f, RuleDeallocCount, RuleCopyType)
	assert.Equal(t, "b", r.Violations[0].Name)
	assert.Equal(t, "c", r.Violations[1].Name)

	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification failed with 2 violation(s)")
	assert.PanicsWithError(t, err.Error(), func() { MustVerify(f) })
}

func TestVerify_FailFast(t *testing.T) {
	f := NewFunction("main")
	f.CreateAllocActivation("a", MustType(Float32, 4))
	f.CreateAllocActivation("b", MustType(Float32, 4))

	r := NewVerifier(WithFailFast(true)).VerifyFunction(f)
	assert.Equal(t, []Rule{RuleDeallocCount}, r.Rules())
	assert.Equal(t, "a", r.Violations[0].Name)

	m := NewModule("m")
	g := m.NewFunction("g")
	g.CreateWeightVar("w", MustType(Float32, 1), Mutability(3))
	h := m.NewFunction("h")
	h.CreateAllocActivation("a", MustType(Float32, 1))

	assert.Len(t, NewVerifier().VerifyModule(m).Violations, 2)
	only := NewVerifier(WithFailFast(true)).VerifyModule(m)
	require.Len(t, only.Violations, 1)
	assert.Equal(t, "g", only.Violations[0].Function)
}

func TestVerify_ErasedInstructionsAreSkipped(t *testing.T) {
	f := NewFunction("main")
	a := f.CreateAllocActivation("a", MustType(Float32, 4))
	d := f.CreateDeallocActivation("d", a)
	deallocID := f.Value(d).Def
	expectRules(t, f)

	require.NoError(t, f.Erase(deallocID))
	expectRules(t, f, RuleDeallocCount)
	assert.Nil(t, NewVerifier().VerifyInstr(f, deallocID))
}

func TestVerify_UseDefCorruption(t *testing.T) {
	build := func() (*Function, InstrID, ValueID, ValueID) {
		f := NewFunction("main")
		ty := MustType(Float32, 4)
		w := f.CreateWeightVar("w", ty, Mutable)
		a := f.CreateAllocActivation("a", ty)
		c := f.CreateCopy("c", a, w)
		f.CreateDeallocActivation("d", a)
		return f, f.Value(c).Def, a, w
	}

	t.Run("missing use", func(t *testing.T) {
		f, copyID, _, w := build()
		require.NoError(t, f.Value(w).removeUse(Use{Instr: copyID, Operand: 1}))
		r := expectRules(t, f, RuleMissingUse)
		assert.Equal(t, CategoryUseDef, r.Violations[0].Category())
	})

	t.Run("stale use", func(t *testing.T) {
		f, copyID, _, w := build()
		f.Value(w).addUse(Use{Instr: copyID, Operand: 0})
		r := expectRules(t, f, RuleStaleUse)
		assert.Equal(t, "w", r.Violations[0].Name)
	})

	t.Run("dangling operand", func(t *testing.T) {
		f, copyID, _, _ := build()
		f.Instr(copyID).operands[1].Value = ValueID(77)
		r := Verify(f)
		assert.True(t, r.Has(RuleDanglingOperand))
		assert.True(t, r.Has(RuleStaleUse))
		assert.False(t, r.Has(RuleCopyType), "kind checks are skipped when operands are unusable")
	})

	t.Run("operand count", func(t *testing.T) {
		f, copyID, _, _ := build()
		in := f.Instr(copyID)
		in.operands = in.operands[:1]
		r := Verify(f)
		assert.True(t, r.Has(RuleOperandCount))
		assert.True(t, r.Has(RuleStaleUse))
	})
}

func TestVerifier_EveryKindHasACheck(t *testing.T) {
	for _, k := range Kinds() {
		assert.NotNil(t, checks[k], "no check for %s", k)
	}
	for r := Rule(0); r < numRules; r++ {
		assert.NotEmpty(t, rules[r].code, "rule %d has no code", r)
	}
}

func TestVerifier_LogsViolations(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := NewFunction("main")
	f.CreateAllocActivation("a", MustType(Float32, 4))

	NewVerifier(WithLogger(zap.New(core))).VerifyFunction(f)

	violated := logs.FilterMessage("contract violated").All()
	require.Len(t, violated, 1)
	assert.Equal(t, "TIR201", violated[0].ContextMap()["rule"])
	assert.Equal(t, 1, logs.FilterMessage("verified function").Len())
}
