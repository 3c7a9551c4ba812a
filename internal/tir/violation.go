package tir

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Category groups rules by the kind of contract they protect.
type Category uint8

const (
	CategoryTypeMismatch Category = iota
	CategoryLifecycle
	CategoryParameter
	CategoryUseDef
	CategoryAccess
)

func (c Category) String() string {
	switch c {
	case CategoryTypeMismatch:
		return "type-mismatch"
	case CategoryLifecycle:
		return "lifecycle"
	case CategoryParameter:
		return "parameter"
	case CategoryUseDef:
		return "use-def"
	case CategoryAccess:
		return "access"
	default:
		return "unknown"
	}
}

// Rule identifies one verified contract.
type Rule uint16

const (
	RuleCopyType Rule = iota
	RuleCopyDestOperand
	RuleCopySrcOperand
	RuleViewSize
	RuleViewElemKind
	RuleInsertElemKind
	RuleQuantizeDestKind
	RuleQuantizeSrcKind
	RuleQuantizeShape
	RuleDeallocCount
	RuleDeallocOperand
	RuleWeightMutability
	RuleInsertCount
	RuleInsertAxis
	RuleOperandCount
	RuleDanglingOperand
	RuleMissingUse
	RuleStaleUse
	RuleConstWrite

	numRules
)

type ruleInfo struct {
	code     string
	category Category
	message  string
}

var rules = [numRules]ruleInfo{
	RuleCopyType:         {"TIR101", CategoryTypeMismatch, "Invalid type."},
	RuleCopyDestOperand:  {"TIR102", CategoryTypeMismatch, "copy destination must be a variable"},
	RuleCopySrcOperand:   {"TIR103", CategoryTypeMismatch, "copy source must be a variable"},
	RuleViewSize:         {"TIR104", CategoryTypeMismatch, "TensorView view size should be no larger than Src size"},
	RuleViewElemKind:     {"TIR105", CategoryTypeMismatch, "TensorView view element type should be the same as Src type"},
	RuleInsertElemKind:   {"TIR106", CategoryTypeMismatch, "InsertTensor dest element type should be the same as Src type."},
	RuleQuantizeDestKind: {"TIR107", CategoryTypeMismatch, "Invalid type: quantize destination must be i8 or i32"},
	RuleQuantizeSrcKind:  {"TIR108", CategoryTypeMismatch, "Invalid type: quantize source must be float or float16"},
	RuleQuantizeShape:    {"TIR109", CategoryTypeMismatch, "Invalid shape"},
	RuleDeallocCount:     {"TIR201", CategoryLifecycle, "Invalid number of tensor deallocation"},
	RuleDeallocOperand:   {"TIR202", CategoryLifecycle, "Invalid operand: deallocation source must be an AllocActivation"},
	RuleWeightMutability: {"TIR301", CategoryParameter, "weight mutability must be const or mutable"},
	RuleInsertCount:      {"TIR302", CategoryParameter, "Count must be non-zero."},
	RuleInsertAxis:       {"TIR303", CategoryParameter, "Axis must fit inside Dest dims."},
	RuleOperandCount:     {"TIR401", CategoryUseDef, "operand count does not match the instruction kind"},
	RuleDanglingOperand:  {"TIR402", CategoryUseDef, "operand does not reference a live value"},
	RuleMissingUse:       {"TIR403", CategoryUseDef, "operand is missing from the users of its value"},
	RuleStaleUse:         {"TIR404", CategoryUseDef, "value lists a use that does not reference it"},
	RuleConstWrite:       {"TIR501", CategoryAccess, "constant weight written by an instruction"},
}

// Code is the stable diagnostic code of r.
func (r Rule) Code() string {
	if r < numRules {
		return rules[r].code
	}
	return "TIR000"
}

// Category is the contract family r belongs to.
func (r Rule) Category() Category {
	if r < numRules {
		return rules[r].category
	}
	return CategoryUseDef
}

// Message is the invariant description reported on failure.
func (r Rule) Message() string {
	if r < numRules {
		return rules[r].message
	}
	return "unknown rule"
}

func (r Rule) String() string { return r.Code() }

// Violation records one failed contract on one instruction.
type Violation struct {
	Rule     Rule
	Function string
	Instr    InstrID
	Kind     Kind
	Name     string
	Operands []string
	Detail   string
	Dump     string
}

// Category is shorthand for v.Rule.Category().
func (v Violation) Category() Category { return v.Rule.Category() }

// Summary joins the rule message and the detail, e.g.
// "Invalid type: dest float<4>, src float16<4>".
func (v Violation) Summary() string {
	if v.Detail == "" {
		return v.Rule.Message()
	}
	return strings.TrimSuffix(v.Rule.Message(), ".") + ": " + v.Detail
}

func (v Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: @%s: %s %%%s", v.Rule.Code(), v.Function, v.Kind, v.Name)
	if len(v.Operands) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(v.Operands, ", "))
	}
	fmt.Fprintf(&b, ": %s", v.Summary())
	if v.Dump != "" {
		fmt.Fprintf(&b, "\n    %s", v.Dump)
	}
	return b.String()
}

// Report is the outcome of verifying one or more functions.
type Report struct {
	Violations []Violation
}

// OK reports whether no contract was violated.
func (r *Report) OK() bool { return r == nil || len(r.Violations) == 0 }

// Rules lists the violated rules in report order.
func (r *Report) Rules() []Rule {
	if r == nil {
		return nil
	}
	out := make([]Rule, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Rule
	}
	return out
}

// Has reports whether rule was violated at least once.
func (r *Report) Has(rule Rule) bool {
	if r == nil {
		return false
	}
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func (r *Report) merge(o *Report) {
	r.Violations = append(r.Violations, o.Violations...)
}

// Err returns nil for a clean report and otherwise an error that names every
// violation.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return errors.Newf("tir: verification failed with %d violation(s):\n%s", len(r.Violations), r.String())
}

func (r *Report) String() string {
	if r.OK() {
		return "ok"
	}
	var b strings.Builder
	for i, v := range r.Violations {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(v.Error())
	}
	return b.String()
}
