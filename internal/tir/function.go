package tir

import (
	"github.com/cockroachdb/errors"
)

// Module is a compilation unit of tensor IR. Functions of one module share a
// type table.
type Module struct {
	Name      string
	Functions []*Function

	types *TypeTable
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, types: NewTypeTable()}
}

// Types returns the module's type table.
func (m *Module) Types() *TypeTable { return m.types }

// NewFunction adds an empty function to m.
func (m *Module) NewFunction(name string) *Function {
	f := newFunction(name, m.types)
	m.Functions = append(m.Functions, f)
	return f
}

// Function returns the first function called name.
func (m *Module) Function(name string) (*Function, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Function owns its values and instructions. Every reference between them is
// an index into these arenas, so values and instructions never own each other.
type Function struct {
	Name string

	types  *TypeTable
	values []*Value
	instrs []*Instr
	order  []InstrID
}

// NewFunction creates a standalone function with its own type table.
func NewFunction(name string) *Function {
	return newFunction(name, NewTypeTable())
}

func newFunction(name string, types *TypeTable) *Function {
	return &Function{Name: name, types: types}
}

// Types returns the table used to intern the types of f's values.
func (f *Function) Types() *TypeTable { return f.types }

// Value returns the value for id, or nil if id is out of range.
func (f *Function) Value(id ValueID) *Value {
	if id < 0 || int(id) >= len(f.values) {
		return nil
	}
	return f.values[id]
}

// Instr returns the instruction for id, or nil if id is out of range.
func (f *Function) Instr(id InstrID) *Instr {
	if id < 0 || int(id) >= len(f.instrs) {
		return nil
	}
	return f.instrs[id]
}

// Instrs returns the live instructions in program order.
func (f *Function) Instrs() []*Instr {
	out := make([]*Instr, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.instrs[id])
	}
	return out
}

// NumInstrs is the number of live instructions.
func (f *Function) NumInstrs() int { return len(f.order) }

// Lookup returns the first live value named name. Names are for diagnostics
// and need not be unique.
func (f *Function) Lookup(name string) (ValueID, bool) {
	for _, v := range f.values {
		if !v.dead && v.Name == name {
			return v.ID, true
		}
	}
	return NoValue, false
}

// DefiningKind returns the kind of the instruction that produced id.
func (f *Function) DefiningKind(id ValueID) (Kind, bool) {
	v := f.Value(id)
	if v == nil || v.dead {
		return 0, false
	}
	in := f.Instr(v.Def)
	if in == nil {
		return 0, false
	}
	return in.Kind, true
}

// CreateWeightVar declares persistent storage.
func (f *Function) CreateWeightVar(name string, ty *Type, mut Mutability) ValueID {
	in := f.newInstr(name, KindWeightVar, ty, nil)
	f.values[in.Result].Mutability = mut
	return in.Result
}

// CreateAllocActivation allocates a transient buffer. It must be paired with
// exactly one DeallocActivation.
func (f *Function) CreateAllocActivation(name string, ty *Type) ValueID {
	return f.newInstr(name, KindAllocActivation, ty, nil).Result
}

// CreateDeallocActivation releases the buffer produced by src.
func (f *Function) CreateDeallocActivation(name string, src ValueID) ValueID {
	return f.newInstr(name, KindDeallocActivation, f.typeOf(src), []ValueID{src}).Result
}

// CreateCopy copies src into dest.
func (f *Function) CreateCopy(name string, dest, src ValueID) ValueID {
	return f.newInstr(name, KindCopy, f.typeOf(dest), []ValueID{dest, src}).Result
}

// CreateTensorView aliases src as a value of type ty starting at offsets.
func (f *Function) CreateTensorView(name string, ty *Type, src ValueID, offsets []int) ValueID {
	in := f.newInstr(name, KindTensorView, ty, []ValueID{src})
	in.offsets = append([]int(nil), offsets...)
	return in.Result
}

// CreateInsertTensor writes count copies of src into dest along axis, starting
// at offsets.
func (f *Function) CreateInsertTensor(name string, dest, src ValueID, offsets []int, count, axis int) ValueID {
	in := f.newInstr(name, KindInsertTensor, f.typeOf(dest), []ValueID{dest, src})
	in.offsets = append([]int(nil), offsets...)
	in.Count = count
	in.Axis = axis
	return in.Result
}

// CreateQuantize converts the floating src into the quantized dest.
func (f *Function) CreateQuantize(name string, dest, src ValueID) ValueID {
	return f.newInstr(name, KindQuantize, f.typeOf(dest), []ValueID{dest, src}).Result
}

func (f *Function) typeOf(id ValueID) *Type {
	v := f.Value(id)
	if v == nil || v.dead {
		panic(errors.AssertionFailedf("function @%s: operand %d is not a live value", f.Name, id))
	}
	return v.Type
}

// newInstr appends an instruction, its result value and all of its uses.
func (f *Function) newInstr(name string, kind Kind, ty *Type, ops []ValueID) *Instr {
	if ty == nil {
		panic(errors.AssertionFailedf("function @%s: %s %%%s has no type", f.Name, kind, name))
	}
	sig := signatures[kind]
	if len(ops) != len(sig) {
		panic(errors.AssertionFailedf("function @%s: %s takes %d operands, got %d", f.Name, kind, len(sig), len(ops)))
	}
	for _, op := range ops {
		f.typeOf(op)
	}

	in := &Instr{
		ID:   InstrID(len(f.instrs)),
		Name: name,
		Kind: kind,
	}
	v := &Value{
		ID:         ValueID(len(f.values)),
		Name:       name,
		Type:       f.types.Intern(ty),
		Mutability: Mutable,
		Def:        in.ID,
	}
	in.Result = v.ID
	f.instrs = append(f.instrs, in)
	f.values = append(f.values, v)
	f.order = append(f.order, in.ID)

	in.operands = make([]Operand, len(ops))
	for i, op := range ops {
		in.operands[i] = Operand{Value: op, Role: sig[i].Role}
		f.values[op].addUse(Use{Instr: in.ID, Operand: i})
	}
	return in
}

// SetOperand points operand pos of id at v, moving the use accordingly.
func (f *Function) SetOperand(id InstrID, pos int, v ValueID) error {
	in := f.Instr(id)
	if in == nil || in.erased {
		return errors.Newf("function @%s: instruction #%d is not live", f.Name, id)
	}
	if pos < 0 || pos >= len(in.operands) {
		return errors.Newf("function @%s: %s %%%s has no operand %d", f.Name, in.Kind, in.Name, pos)
	}
	nv := f.Value(v)
	if nv == nil || nv.dead {
		return errors.Newf("function @%s: value %d is not live", f.Name, v)
	}
	u := Use{Instr: id, Operand: pos}
	if old := f.Value(in.operands[pos].Value); old != nil {
		if err := old.removeUse(u); err != nil {
			return err
		}
	}
	in.operands[pos].Value = v
	nv.addUse(u)
	return nil
}

// Erase removes id from the function together with its uses. The result of
// the instruction must have no remaining users.
func (f *Function) Erase(id InstrID) error {
	in := f.Instr(id)
	if in == nil || in.erased {
		return errors.Newf("function @%s: instruction #%d is not live", f.Name, id)
	}
	res := f.values[in.Result]
	if res.HasUsers() {
		return errors.Newf("function @%s: cannot erase %s %%%s: result still has %d user(s)",
			f.Name, in.Kind, in.Name, res.NumUsers())
	}
	for i, op := range in.operands {
		v := f.Value(op.Value)
		if v == nil {
			continue
		}
		if err := v.removeUse(Use{Instr: id, Operand: i}); err != nil {
			return errors.Wrapf(err, "erasing %s %%%s", in.Kind, in.Name)
		}
	}
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	in.erased = true
	res.dead = true
	return nil
}
