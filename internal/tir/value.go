package tir

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ValueID indexes a Value inside its Function.
type ValueID int32

// InstrID indexes an Instr inside its Function.
type InstrID int32

const (
	NoValue ValueID = -1
	NoInstr InstrID = -1
)

// Mutability tells whether persistent storage may be written.
type Mutability uint8

const (
	Constant Mutability = iota
	Mutable
)

// MutabilityString returns the canonical token for m: "const" or "mutable".
// Anything else has no token and yields "".
func MutabilityString(m Mutability) string {
	switch m {
	case Constant:
		return "const"
	case Mutable:
		return "mutable"
	default:
		return ""
	}
}

func (m Mutability) String() string {
	if s := MutabilityString(m); s != "" {
		return s
	}
	return fmt.Sprintf("mutability(%d)", uint8(m))
}

// Valid reports whether m is one of the two canonical kinds.
func (m Mutability) Valid() bool { return MutabilityString(m) != "" }

// ParseMutability is the inverse of MutabilityString.
func ParseMutability(s string) (Mutability, error) {
	switch s {
	case "const":
		return Constant, nil
	case "mutable":
		return Mutable, nil
	default:
		return 0, errors.Newf("unknown mutability %q", s)
	}
}

// Use is one operand slot that references a value.
type Use struct {
	Instr   InstrID
	Operand int
}

func (u Use) String() string { return fmt.Sprintf("(#%d, %d)", u.Instr, u.Operand) }

// Value is a typed buffer: persistent storage, an activation, a view, or the
// result of any other instruction. The users list is a back reference; the
// value owns none of its users.
type Value struct {
	ID         ValueID
	Name       string
	Type       *Type
	Mutability Mutability
	Def        InstrID

	users []Use
	dead  bool
}

// Users returns the uses of v in the order they were linked.
func (v *Value) Users() []Use { return append([]Use(nil), v.users...) }

func (v *Value) NumUsers() int  { return len(v.users) }
func (v *Value) HasUsers() bool { return len(v.users) > 0 }

// MutabilityString is the canonical token of v's mutability.
func (v *Value) MutabilityString() string { return MutabilityString(v.Mutability) }

func (v *Value) addUse(u Use) {
	v.users = append(v.users, u)
}

func (v *Value) removeUse(u Use) error {
	for i, x := range v.users {
		if x == u {
			v.users = append(v.users[:i], v.users[i+1:]...)
			return nil
		}
	}
	return errors.AssertionFailedf("value %%%s has no use %s", v.Name, u)
}

func (v *Value) hasUse(u Use) bool {
	for _, x := range v.users {
		if x == u {
			return true
		}
	}
	return false
}
