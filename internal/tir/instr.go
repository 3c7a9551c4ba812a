package tir

import "fmt"

// Kind enumerates the instruction catalog.
type Kind uint8

const (
	KindWeightVar Kind = iota
	KindAllocActivation
	KindDeallocActivation
	KindCopy
	KindTensorView
	KindInsertTensor
	KindQuantize

	numKinds
)

var kindNames = [numKinds]string{
	KindWeightVar:         "WeightVar",
	KindAllocActivation:   "AllocActivation",
	KindDeallocActivation: "DeallocActivation",
	KindCopy:              "Copy",
	KindTensorView:        "TensorView",
	KindInsertTensor:      "InsertTensor",
	KindQuantize:          "Quantize",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds returns every kind of the catalog in declaration order.
func Kinds() []Kind {
	ks := make([]Kind, numKinds)
	for i := range ks {
		ks[i] = Kind(i)
	}
	return ks
}

// ParseKind maps a mnemonic back to its kind.
func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Role says how an instruction accesses an operand.
type Role uint8

const (
	RoleIn Role = iota
	RoleOut
	RoleInOut
)

func (r Role) String() string {
	switch r {
	case RoleIn:
		return "@in"
	case RoleOut:
		return "@out"
	case RoleInOut:
		return "@inout"
	default:
		return "@?"
	}
}

// Writes reports whether the role modifies the operand.
func (r Role) Writes() bool { return r == RoleOut || r == RoleInOut }

// Slot describes one position of a kind's operand list.
type Slot struct {
	Name string
	Role Role
}

var signatures = [numKinds][]Slot{
	KindWeightVar:         nil,
	KindAllocActivation:   nil,
	KindDeallocActivation: {{"Src", RoleIn}},
	KindCopy:              {{"Dest", RoleOut}, {"Src", RoleIn}},
	KindTensorView:        {{"Src", RoleIn}},
	KindInsertTensor:      {{"Dest", RoleOut}, {"Src", RoleIn}},
	KindQuantize:          {{"Dest", RoleOut}, {"Src", RoleIn}},
}

// Signature returns the fixed operand list of k.
func (k Kind) Signature() []Slot {
	if k >= numKinds {
		return nil
	}
	return append([]Slot(nil), signatures[k]...)
}

// slotIndex finds the position of a named slot, or -1.
func (k Kind) slotIndex(name string) int {
	if k >= numKinds {
		return -1
	}
	for i, s := range signatures[k] {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Operand is a non-owning reference from an instruction to a value.
type Operand struct {
	Value ValueID
	Role  Role
}

// Instr is one instruction of a Function. Operands are handles into the
// owning function; the function keeps the users lists in sync with them.
type Instr struct {
	ID     InstrID
	Name   string
	Kind   Kind
	Result ValueID

	// Count and Axis are InsertTensor parameters.
	Count int
	Axis  int

	operands []Operand
	offsets  []int
	erased   bool
}

// Operands returns a copy of the operand list.
func (in *Instr) Operands() []Operand { return append([]Operand(nil), in.operands...) }

func (in *Instr) NumOperands() int { return len(in.operands) }

// Operand returns the operand at pos.
func (in *Instr) Operand(pos int) Operand { return in.operands[pos] }

// Offsets returns a copy of the start offsets of a TensorView or InsertTensor.
func (in *Instr) Offsets() []int { return append([]int(nil), in.offsets...) }

// Dest returns the value written by the instruction, or NoValue if its kind
// has no Dest slot.
func (in *Instr) Dest() ValueID { return in.slot("Dest") }

// Src returns the value read by the instruction, or NoValue if its kind has
// no Src slot.
func (in *Instr) Src() ValueID { return in.slot("Src") }

func (in *Instr) slot(name string) ValueID {
	i := in.Kind.slotIndex(name)
	if i < 0 || i >= len(in.operands) {
		return NoValue
	}
	return in.operands[i].Value
}

// Erased reports whether the instruction was removed from its function.
func (in *Instr) Erased() bool { return in.erased }
