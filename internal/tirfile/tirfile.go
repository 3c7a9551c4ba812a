// Package tirfile reads tensor IR modules from YAML descriptions.
//
// A description lists, per function, the instructions in program order.
// Operands name earlier instructions of the same function:
//
//	version: 1.0.0
//	module: demo
//	functions:
//	  - name: main
//	    body:
//	      - {op: WeightVar, name: w, type: {elem: float, dims: [4, 4]}, mutability: const}
//	      - {op: AllocActivation, name: a, type: {elem: float, dims: [4, 4]}}
//	      - {op: Copy, name: c, dest: a, src: w}
//	      - {op: DeallocActivation, name: d, src: a}
//
// Loading only builds the IR. Callers run the verifier themselves.
package tirfile

import (
	"bytes"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/tensorir/internal/tir"
)

// SupportedVersions is the range of description versions this package reads.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

var supported = mustConstraint(SupportedVersions)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Document is the top-level YAML description.
type Document struct {
	Version   string        `yaml:"version"`
	Module    string        `yaml:"module"`
	Functions []FunctionDoc `yaml:"functions"`
}

// FunctionDoc describes one function.
type FunctionDoc struct {
	Name string     `yaml:"name"`
	Body []InstrDoc `yaml:"body"`
}

// InstrDoc describes one instruction. Fields that do not apply to Op must be
// left empty.
type InstrDoc struct {
	Op         string   `yaml:"op"`
	Name       string   `yaml:"name"`
	Type       *TypeDoc `yaml:"type,omitempty"`
	Mutability string   `yaml:"mutability,omitempty"`
	Dest       string   `yaml:"dest,omitempty"`
	Src        string   `yaml:"src,omitempty"`
	Offsets    []int    `yaml:"offsets,omitempty"`
	Count      *int     `yaml:"count,omitempty"`
	Axis       int      `yaml:"axis,omitempty"`
}

// TypeDoc describes a tensor type. Scale and Offset apply to quantized kinds.
type TypeDoc struct {
	Elem   string  `yaml:"elem"`
	Dims   []int   `yaml:"dims"`
	Scale  float32 `yaml:"scale,omitempty"`
	Offset int32   `yaml:"offset,omitempty"`
}

// Type builds the tir type described by td.
func (td *TypeDoc) Type() (*tir.Type, error) {
	kind, err := tir.ParseElemKind(td.Elem)
	if err != nil {
		return nil, err
	}
	if kind.IsQuantized() {
		return tir.NewQuantizedType(kind, td.Scale, td.Offset, td.Dims...)
	}
	if td.Scale != 0 || td.Offset != 0 {
		return nil, errors.Newf("element kind %s takes no scale or offset", kind)
	}
	return tir.NewType(kind, td.Dims...)
}

// Parse decodes and version-checks a YAML description.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding tir description")
	}
	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}
	return &doc, nil
}

func checkVersion(v string) error {
	if v == "" {
		return errors.New("tir description has no version")
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(err, "invalid version %q", v)
	}
	if !supported.Check(sv) {
		return errors.Newf("unsupported tir description version %s (want %s)", sv, SupportedVersions)
	}
	return nil
}

// Load reads, parses and builds the module described in the file at path.
func Load(path string) (*tir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	m, err := doc.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return m, nil
}

// Build constructs the module. It rejects descriptions that cannot be linked
// (unknown ops or names, malformed types) but accepts any linkable IR, even
// IR the verifier will reject.
func (d *Document) Build() (*tir.Module, error) {
	m := tir.NewModule(d.Module)
	for _, fd := range d.Functions {
		f := m.NewFunction(fd.Name)
		b := &builder{f: f, names: make(map[string]tir.ValueID)}
		for i, in := range fd.Body {
			if err := b.add(in); err != nil {
				return nil, errors.Wrapf(err, "function %s, instruction %d", fd.Name, i)
			}
		}
	}
	return m, nil
}

type builder struct {
	f     *tir.Function
	names map[string]tir.ValueID
}

func (b *builder) ref(role, name string) (tir.ValueID, error) {
	if name == "" {
		return tir.NoValue, errors.Newf("missing %s operand", role)
	}
	id, ok := b.names[name]
	if !ok {
		return tir.NoValue, errors.Newf("%s operand %q is not defined", role, name)
	}
	return id, nil
}

func (b *builder) typ(in InstrDoc) (*tir.Type, error) {
	if in.Type == nil {
		return nil, errors.Newf("%s needs a type", in.Op)
	}
	return in.Type.Type()
}

func (b *builder) add(in InstrDoc) error {
	if in.Name == "" {
		return errors.New("instruction has no name")
	}
	if _, dup := b.names[in.Name]; dup {
		return errors.Newf("name %q is already defined", in.Name)
	}
	kind, ok := tir.ParseKind(in.Op)
	if !ok {
		return errors.Newf("unknown op %q", in.Op)
	}

	var (
		id  tir.ValueID
		err error
	)
	switch kind {
	case tir.KindWeightVar:
		id, err = b.weightVar(in)
	case tir.KindAllocActivation:
		var ty *tir.Type
		if ty, err = b.typ(in); err == nil {
			id = b.f.CreateAllocActivation(in.Name, ty)
		}
	case tir.KindDeallocActivation:
		var src tir.ValueID
		if src, err = b.ref("src", in.Src); err == nil {
			id = b.f.CreateDeallocActivation(in.Name, src)
		}
	case tir.KindTensorView:
		id, err = b.tensorView(in)
	case tir.KindCopy, tir.KindInsertTensor, tir.KindQuantize:
		id, err = b.destSrc(kind, in)
	default:
		err = errors.Newf("op %s cannot be loaded", kind)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %q", in.Op, in.Name)
	}
	b.names[in.Name] = id
	return nil
}

func (b *builder) weightVar(in InstrDoc) (tir.ValueID, error) {
	ty, err := b.typ(in)
	if err != nil {
		return tir.NoValue, err
	}
	mut := tir.Constant
	if in.Mutability != "" {
		if mut, err = tir.ParseMutability(in.Mutability); err != nil {
			return tir.NoValue, err
		}
	}
	return b.f.CreateWeightVar(in.Name, ty, mut), nil
}

func (b *builder) tensorView(in InstrDoc) (tir.ValueID, error) {
	ty, err := b.typ(in)
	if err != nil {
		return tir.NoValue, err
	}
	src, err := b.ref("src", in.Src)
	if err != nil {
		return tir.NoValue, err
	}
	return b.f.CreateTensorView(in.Name, ty, src, in.Offsets), nil
}

func (b *builder) destSrc(kind tir.Kind, in InstrDoc) (tir.ValueID, error) {
	dest, err := b.ref("dest", in.Dest)
	if err != nil {
		return tir.NoValue, err
	}
	src, err := b.ref("src", in.Src)
	if err != nil {
		return tir.NoValue, err
	}
	switch kind {
	case tir.KindCopy:
		return b.f.CreateCopy(in.Name, dest, src), nil
	case tir.KindQuantize:
		return b.f.CreateQuantize(in.Name, dest, src), nil
	default:
		count := 1
		if in.Count != nil {
			count = *in.Count
		}
		return b.f.CreateInsertTensor(in.Name, dest, src, in.Offsets, count, in.Axis), nil
	}
}
