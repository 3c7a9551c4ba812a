package tir

import (
	"fmt"

	"go.uber.org/zap"
)

// Verifier checks the structural contracts of every instruction. Checks are
// local to one instruction and its operands' users lists, so the order in
// which instructions are visited never changes the outcome.
type Verifier struct {
	logger   *zap.Logger
	failFast bool
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger used for debug output. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithFailFast stops verification at the first violation.
func WithFailFast(on bool) Option {
	return func(v *Verifier) { v.failFast = on }
}

// NewVerifier creates a verifier.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{logger: zap.NewNop()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks f with a default verifier.
func Verify(f *Function) *Report { return NewVerifier().VerifyFunction(f) }

// MustVerify panics if f violates any contract. Code generation entry points
// call it: a malformed function must never be lowered.
func MustVerify(f *Function) {
	if err := Verify(f).Err(); err != nil {
		panic(err)
	}
}

// VerifyModule checks every function of m.
func (v *Verifier) VerifyModule(m *Module) *Report {
	r := &Report{}
	for _, f := range m.Functions {
		r.merge(v.VerifyFunction(f))
		if v.failFast && !r.OK() {
			break
		}
	}
	v.logger.Debug("verified module",
		zap.String("module", m.Name),
		zap.Int("functions", len(m.Functions)),
		zap.Int("violations", len(r.Violations)))
	return r
}

// VerifyFunction checks every live instruction of f in program order.
func (v *Verifier) VerifyFunction(f *Function) *Report {
	r := &Report{}
	for _, id := range f.order {
		vs := v.VerifyInstr(f, id)
		r.Violations = append(r.Violations, vs...)
		if v.failFast && len(vs) > 0 {
			r.Violations = r.Violations[:len(r.Violations)-len(vs)+1]
			break
		}
	}
	for _, viol := range r.Violations {
		v.logger.Debug("contract violated",
			zap.String("function", viol.Function),
			zap.String("instr", viol.Name),
			zap.String("rule", viol.Rule.Code()))
	}
	v.logger.Debug("verified function",
		zap.String("function", f.Name),
		zap.Int("instrs", len(f.order)),
		zap.Int("violations", len(r.Violations)))
	return r
}

// VerifyInstr checks a single instruction. It has no side effects.
func (v *Verifier) VerifyInstr(f *Function, id InstrID) []Violation {
	in := f.Instr(id)
	if in == nil || in.erased {
		return nil
	}
	c := &checker{f: f, in: in}
	if c.checkLinks() {
		checks[in.Kind](c)
	}
	return c.out
}

var checks = [numKinds]func(*checker){
	KindWeightVar:         (*checker).checkWeightVar,
	KindAllocActivation:   (*checker).checkAllocActivation,
	KindDeallocActivation: (*checker).checkDeallocActivation,
	KindCopy:              (*checker).checkCopy,
	KindTensorView:        (*checker).checkTensorView,
	KindInsertTensor:      (*checker).checkInsertTensor,
	KindQuantize:          (*checker).checkQuantize,
}

type checker struct {
	f   *Function
	in  *Instr
	out []Violation
}

func (c *checker) fail(rule Rule, format string, args ...interface{}) {
	c.out = append(c.out, Violation{
		Rule:     rule,
		Function: c.f.Name,
		Instr:    c.in.ID,
		Kind:     c.in.Kind,
		Name:     c.in.Name,
		Operands: c.operandNames(),
		Detail:   fmt.Sprintf(format, args...),
		Dump:     c.f.Format(c.in.ID),
	})
}

func (c *checker) operandNames() []string {
	sig := signatures[c.in.Kind]
	names := make([]string, 0, len(c.in.operands))
	for i, op := range c.in.operands {
		label := fmt.Sprintf("op%d", i)
		if i < len(sig) {
			label = sig[i].Name
		}
		names = append(names, label+" "+c.f.valueRef(op.Value))
	}
	return names
}

// checkLinks validates the operand list against the kind signature and the
// users lists on both ends. It reports whether the kind check can safely
// dereference every operand.
func (c *checker) checkLinks() bool {
	if c.in.Kind >= numKinds {
		c.fail(RuleOperandCount, "unknown instruction kind %d", uint8(c.in.Kind))
		return false
	}
	ok := true
	sig := signatures[c.in.Kind]
	if len(c.in.operands) != len(sig) {
		c.fail(RuleOperandCount, "%s takes %d operand(s), has %d", c.in.Kind, len(sig), len(c.in.operands))
		ok = false
	}
	for i, op := range c.in.operands {
		v := c.f.Value(op.Value)
		if v == nil || v.dead {
			c.fail(RuleDanglingOperand, "operand %d references value #%d", i, op.Value)
			ok = false
			continue
		}
		if !v.hasUse(Use{Instr: c.in.ID, Operand: i}) {
			c.fail(RuleMissingUse, "%%%s does not list use %d", v.Name, i)
		}
		if op.Role.Writes() && v.Mutability == Constant {
			if k, _ := c.f.DefiningKind(op.Value); k == KindWeightVar {
				c.fail(RuleConstWrite, "%%%s is const", v.Name)
			}
		}
	}
	res := c.f.Value(c.in.Result)
	for _, u := range res.users {
		user := c.f.Instr(u.Instr)
		if user == nil || user.erased || u.Operand < 0 || u.Operand >= len(user.operands) ||
			user.operands[u.Operand].Value != res.ID {
			c.fail(RuleStaleUse, "%%%s lists use %s", res.Name, u)
		}
	}
	return ok
}

func (c *checker) value(id ValueID) *Value { return c.f.values[id] }

func (c *checker) defKind(id ValueID) Kind {
	k, _ := c.f.DefiningKind(id)
	return k
}

func isVariable(k Kind) bool {
	return k == KindAllocActivation || k == KindWeightVar || k == KindTensorView
}

func (c *checker) checkWeightVar() {
	res := c.value(c.in.Result)
	if !res.Mutability.Valid() {
		c.fail(RuleWeightMutability, "got %s", res.Mutability)
	}
}

func (c *checker) checkAllocActivation() {
	res := c.value(c.in.Result)
	n := 0
	for _, u := range res.users {
		if user := c.f.Instr(u.Instr); user != nil && !user.erased && user.Kind == KindDeallocActivation {
			n++
		}
	}
	if n != 1 {
		c.fail(RuleDeallocCount, "%%%s has %d deallocation(s)", res.Name, n)
	}
}

func (c *checker) checkDeallocActivation() {
	src := c.in.Src()
	if k := c.defKind(src); k != KindAllocActivation {
		c.fail(RuleDeallocOperand, "%%%s is produced by %s", c.value(src).Name, k)
	}
}

func (c *checker) checkCopy() {
	dest, src := c.value(c.in.Dest()), c.value(c.in.Src())
	if !dest.Type.Equal(src.Type) {
		c.fail(RuleCopyType, "dest %s, src %s", dest.Type, src.Type)
	}
	if k := c.defKind(dest.ID); !isVariable(k) {
		c.fail(RuleCopyDestOperand, "%%%s is produced by %s", dest.Name, k)
	}
	if k := c.defKind(src.ID); !isVariable(k) {
		c.fail(RuleCopySrcOperand, "%%%s is produced by %s", src.Name, k)
	}
}

func (c *checker) checkTensorView() {
	view, src := c.value(c.in.Result), c.value(c.in.Src())
	if src.Type.Size() < view.Type.Size() {
		c.fail(RuleViewSize, "view %s has %d elements, src %s has %d",
			view.Type, view.Type.Size(), src.Type, src.Type.Size())
	}
	if !src.Type.SameElemKind(view.Type) {
		c.fail(RuleViewElemKind, "view %s, src %s", view.Type.ElemKind(), src.Type.ElemKind())
	}
}

func (c *checker) checkInsertTensor() {
	dest, src := c.value(c.in.Dest()), c.value(c.in.Src())
	if !src.Type.SameElemKind(dest.Type) {
		c.fail(RuleInsertElemKind, "dest %s, src %s", dest.Type.ElemKind(), src.Type.ElemKind())
	}
	if c.in.Count <= 0 {
		c.fail(RuleInsertCount, "count is %d", c.in.Count)
	}
	if c.in.Axis < 0 || c.in.Axis >= dest.Type.Rank() {
		c.fail(RuleInsertAxis, "axis %d, dest rank %d", c.in.Axis, dest.Type.Rank())
	}
}

func (c *checker) checkQuantize() {
	dest, src := c.value(c.in.Dest()), c.value(c.in.Src())
	if k := dest.Type.ElemKind(); k != Int8Q && k != Int32Q {
		c.fail(RuleQuantizeDestKind, "dest is %s", k)
	}
	if k := src.Type.ElemKind(); k != Float32 && k != Float16 {
		c.fail(RuleQuantizeSrcKind, "src is %s", k)
	}
	if !src.Type.SameShape(dest.Type) {
		c.fail(RuleQuantizeShape, "dest %s, src %s", dest.Type, src.Type)
	}
}
