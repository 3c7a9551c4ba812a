package tir

import (
	"fmt"
	"strings"
)

// Format renders one instruction on a single line, e.g.
//
//	%w = WeightVar float<4 x 4> const
//	%c = Copy @out %a, @in %w
//
// The format is meant for logs and diagnostics and is not parsed back.
func (f *Function) Format(id InstrID) string {
	in := f.Instr(id)
	if in == nil {
		return "<invalid-instr>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%%%s = %s", in.Name, in.Kind)

	switch in.Kind {
	case KindWeightVar:
		v := f.values[in.Result]
		fmt.Fprintf(&b, " %s %s", v.Type, v.Mutability)
		return b.String()
	case KindAllocActivation, KindTensorView:
		fmt.Fprintf(&b, " %s", f.values[in.Result].Type)
	}

	for i, op := range in.operands {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", op.Role, f.valueRef(op.Value))
	}

	switch in.Kind {
	case KindTensorView:
		fmt.Fprintf(&b, " { offsets: %s }", intList(in.offsets))
	case KindInsertTensor:
		fmt.Fprintf(&b, " { offsets: %s, count: %d, axis: %d }", intList(in.offsets), in.Count, in.Axis)
	}
	return b.String()
}

func (f *Function) valueRef(id ValueID) string {
	v := f.Value(id)
	if v == nil {
		return "%<invalid>"
	}
	return "%" + v.Name
}

func intList(xs []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range xs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", x)
	}
	b.WriteByte(']')
	return b.String()
}

func (f *Function) String() string {
	if f == nil {
		return "<nil-func>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "func @%s {\n", f.Name)
	for _, id := range f.order {
		b.WriteString("  ")
		b.WriteString(f.Format(id))
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.String()
}

func (m *Module) String() string {
	if m == nil {
		return "<nil-tir-module>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)
	for _, f := range m.Functions {
		b.WriteString(f.String())
	}
	return b.String()
}
