package bindgen

import (
	"fmt"
	"go/token"
	"strconv"
	"strings"

	"github.com/rawsock/wsrbuild/internal/cheader"
)

// maxDepth bounds typedef chains and record nesting.
const maxDepth = 64

// goType spells t as a Go type. With value set, t must have a known
// layout unless it is reached through a pointer.
func (g *generator) goType(t cheader.CType, value bool) (string, error) {
	var b strings.Builder
	for _, d := range t.Dims {
		fmt.Fprintf(&b, "[%d]", d)
	}
	switch {
	case t.Func != nil:
		// code addresses, as cgo spells them
		b.WriteString(strings.Repeat("*", t.Pointers))
		b.WriteString("[0]byte")
		return b.String(), nil
	case t.Pointers > 0 && t.Tag == "" && t.Name == "void":
		b.WriteString(strings.Repeat("*", t.Pointers-1))
		b.WriteString("unsafe.Pointer")
		return b.String(), nil
	}
	if value && t.Pointers == 0 && g.isOpaque(t) {
		return "", fmt.Errorf("%s is opaque and cannot be used by value", t)
	}
	base, err := g.baseType(t)
	if err != nil {
		return "", err
	}
	b.WriteString(strings.Repeat("*", t.Pointers))
	b.WriteString(base)
	return b.String(), nil
}

func (g *generator) baseType(t cheader.CType) (string, error) {
	switch {
	case t.Record != nil:
		return g.structType(t.Record)
	case t.Tag == cheader.TagEnum:
		if g.enums[t.Name] != nil {
			return t.Name, nil
		}
		return "int32", nil
	case t.Tag != "":
		if g.records[t.Name] == nil && !g.opaque[t.Name] {
			g.external[t.Name] = true
		}
		return t.Name, nil
	}
	if b, ok := cheader.LookupBasic(t.Name); ok {
		if b.Go == "" {
			return "", fmt.Errorf("void used as a value")
		}
		return b.Go, nil
	}
	if _, ok := g.typedefs[t.Name]; ok || g.opaque[t.Name] {
		return t.Name, nil
	}
	if _, ok := cheader.PlatformType(t.Name); ok {
		g.platform[t.Name] = true
		return t.Name, nil
	}
	g.external[t.Name] = true
	return t.Name, nil
}

// isOpaque reports whether a non-pointer t has no known layout.
func (g *generator) isOpaque(t cheader.CType) bool {
	for i := 0; i < maxDepth; i++ {
		switch {
		case t.Pointers > 0, t.Func != nil, t.Record != nil, t.Tag == cheader.TagEnum:
			return false
		case t.Tag != "":
			r := g.records[t.Name]
			return g.opaque[t.Name] || r == nil || r.Incomplete
		}
		if _, ok := cheader.LookupBasic(t.Name); ok {
			return false
		}
		if g.opaque[t.Name] {
			return true
		}
		next, ok := g.typedefs[t.Name]
		if !ok {
			if next, ok = cheader.PlatformType(t.Name); !ok {
				return true
			}
		}
		t = next
	}
	return true
}

// structType spells a record body. Fields keep their MSVC offsets: where
// Go would place a field earlier than MSVC does, an explicit padding
// field makes up the difference. Unions, records with bit-fields and
// records whose fields Go cannot place become blobs of the same size.
func (g *generator) structType(r *cheader.Record) (string, error) {
	pl, err := g.plan(r, 0)
	if err != nil {
		return "", err
	}
	if pl.blob {
		return fmt.Sprintf("struct {\n_ [%d]%s\n}", pl.size/pl.unit, unitType(pl.unit)), nil
	}
	var b strings.Builder
	b.WriteString("struct {\n")
	anon := 0
	for i, f := range r.Fields {
		name := f.Name
		switch {
		case name == "":
			name = "anon" + strconv.Itoa(anon)
			anon++
		case token.IsKeyword(name):
			// cgo's spelling for such members
			name = "_" + name
		}
		typ, err := g.goType(f.Type, true)
		if err != nil {
			return "", fmt.Errorf("member %s: %w", name, err)
		}
		if pl.pads[i] > 0 {
			fmt.Fprintf(&b, "_ [%d]byte\n", pl.pads[i])
		}
		fmt.Fprintf(&b, "%s %s\n", name, typ)
	}
	if pl.tail > 0 {
		fmt.Fprintf(&b, "_ [%d]byte\n", pl.tail)
	}
	b.WriteString("}")
	return b.String(), nil
}

// recordPlan is how a record is spelled in Go.
type recordPlan struct {
	size, align int64 // MSVC layout
	goAlign     int64 // alignment of the Go spelling
	blob        bool
	unit        int64   // blob element size
	pads        []int64 // padding before each field
	tail        int64   // padding after the last field
}

func (g *generator) plan(r *cheader.Record, depth int) (*recordPlan, error) {
	size, align, err := g.recordLayout(r, depth)
	if err != nil {
		return nil, err
	}
	pl := &recordPlan{size: size, align: align, goAlign: 1}
	blob := func() *recordPlan {
		pl.blob, pl.pads, pl.tail = true, nil, 0
		pl.unit = align
		pl.goAlign = min(pl.unit, g.ptrSize)
		return pl
	}
	if r.Union || r.HasBitfields() {
		return blob(), nil
	}

	var off, last int64 // end of the previous field; size of the last one
	for _, f := range r.Fields {
		fs, fa, err := g.layout(f.Type, depth)
		if err != nil {
			return nil, err
		}
		ga, err := g.goAlign(f.Type, depth)
		if err != nil {
			return nil, err
		}
		at := alignUp(off, packed(fa, r.Pack))
		var pad int64
		switch {
		case alignUp(off, ga) == at:
		case at > off && at%ga == 0:
			pad = at - off
		default:
			return blob(), nil
		}
		pl.pads = append(pl.pads, pad)
		pl.goAlign = max(pl.goAlign, ga)
		off, last = at+fs, fs
	}
	switch {
	case last == 0 && off > 0:
		// Go pads a trailing zero-size field
		return blob(), nil
	case alignUp(off, pl.goAlign) == size:
	case size > off && size%pl.goAlign == 0:
		pl.tail = size - off
	default:
		return blob(), nil
	}
	return pl, nil
}

// goAlign returns the alignment Go gives the spelling of t. It differs
// from the MSVC alignment for 8-byte scalars on 386.
func (g *generator) goAlign(t cheader.CType, depth int) (int64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("type %s nests too deeply", t)
	}
	switch {
	case t.Pointers > 0, t.Func != nil:
		return g.ptrSize, nil
	case t.Record != nil:
		pl, err := g.plan(t.Record, depth+1)
		if err != nil {
			return 0, err
		}
		return pl.goAlign, nil
	case t.Tag == cheader.TagEnum:
		return 4, nil
	case t.Tag != "":
		r := g.records[t.Name]
		if r == nil || r.Incomplete || g.opaque[t.Name] {
			return 0, fmt.Errorf("%s %s is opaque", t.Tag, t.Name)
		}
		pl, err := g.plan(r, depth+1)
		if err != nil {
			return 0, err
		}
		return pl.goAlign, nil
	}
	if b, ok := cheader.LookupBasic(t.Name); ok {
		if b.Size == 0 {
			return g.ptrSize, nil
		}
		return min(int64(b.Size), g.ptrSize), nil
	}
	if next, ok := g.typedefs[t.Name]; ok {
		return g.goAlign(next, depth+1)
	}
	if next, ok := cheader.PlatformType(t.Name); ok {
		return g.goAlign(next, depth+1)
	}
	return 0, fmt.Errorf("%s is not defined", t.Name)
}

// packed caps a field alignment at the #pragma pack value in effect.
func packed(align int64, pack int) int64 {
	if pack > 0 && int64(pack) < align {
		return int64(pack)
	}
	return align
}

func unitType(align int64) string {
	switch align {
	case 2:
		return "uint16"
	case 4:
		return "uint32"
	case 8:
		return "uint64"
	}
	return "uint8"
}

// layout returns the MSVC size and alignment of t.
func (g *generator) layout(t cheader.CType, depth int) (int64, int64, error) {
	if depth > maxDepth {
		return 0, 0, fmt.Errorf("type %s nests too deeply", t)
	}
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	var (
		size, align int64
		err         error
	)
	switch {
	case t.Pointers > 0:
		size, align = g.ptrSize, g.ptrSize
	case t.Func != nil:
		return 0, 0, fmt.Errorf("function type %s has no size", t)
	case t.Record != nil:
		size, align, err = g.recordLayout(t.Record, depth+1)
	case t.Tag == cheader.TagEnum:
		size, align = 4, 4
	case t.Tag != "":
		r := g.records[t.Name]
		if r == nil || r.Incomplete || g.opaque[t.Name] {
			return 0, 0, fmt.Errorf("%s %s is opaque", t.Tag, t.Name)
		}
		size, align, err = g.recordLayout(r, depth+1)
	default:
		size, align, err = g.namedLayout(t.Name, depth)
	}
	return size * n, align, err
}

func (g *generator) namedLayout(name string, depth int) (int64, int64, error) {
	if b, ok := cheader.LookupBasic(name); ok {
		switch {
		case b.Go == "":
			return 0, 0, fmt.Errorf("void has no size")
		case b.Size == 0:
			return g.ptrSize, g.ptrSize, nil
		}
		return int64(b.Size), int64(b.Size), nil
	}
	if g.opaque[name] {
		return 0, 0, fmt.Errorf("%s is opaque", name)
	}
	if t, ok := g.typedefs[name]; ok {
		return g.layout(t, depth+1)
	}
	if t, ok := cheader.PlatformType(name); ok {
		return g.layout(t, depth+1)
	}
	return 0, 0, fmt.Errorf("%s is not defined", name)
}

// recordLayout follows the MSVC rules: a bit-field shares the open
// storage unit when its type has the unit's size and its bits still fit,
// and no member is aligned beyond the record's pack value.
func (g *generator) recordLayout(r *cheader.Record, depth int) (int64, int64, error) {
	var (
		size  int64
		align int64 = 1
		unit  int64 // open bit-field unit size, 0 when none
		used  int64 // bits taken in the open unit
	)
	for _, f := range r.Fields {
		fs, fa, err := g.layout(f.Type, depth)
		if err != nil {
			return 0, 0, err
		}
		fa = packed(fa, r.Pack)
		if r.Union {
			size, align = max(size, fs), max(align, fa)
			continue
		}
		bits := int64(f.Bits)
		switch {
		case bits < 0:
			unit = 0
			continue
		case bits > 0 && unit == fs && used+bits <= fs*8:
			used += bits
			continue
		case bits > 0:
			unit, used = fs, bits
		default:
			unit = 0
		}
		align = max(align, fa)
		size = alignUp(size, fa) + fs
	}
	return alignUp(size, align), align, nil
}

func alignUp(n, a int64) int64 {
	return (n + a - 1) / a * a
}

// cgoType spells t the way cgo names it in the C pseudo-package.
func (g *generator) cgoType(t cheader.CType) string {
	ptr := strings.Repeat("*", t.Pointers)
	switch {
	case t.Func != nil:
		return ptr + "[0]byte"
	case t.Pointers > 0 && t.Tag == "" && t.Name == "void":
		return ptr[1:] + "unsafe.Pointer"
	}
	switch t.Tag {
	case cheader.TagStruct, cheader.TagUnion:
		if r := g.records[t.Name]; r != nil && r.Typedef {
			return ptr + "C." + t.Name
		}
		return ptr + "C." + t.Tag + "_" + t.Name
	case cheader.TagEnum:
		if e := g.enums[t.Name]; e != nil && e.Typedef {
			return ptr + "C." + t.Name
		}
		return ptr + "C.enum_" + t.Name
	}
	if b, ok := cheader.LookupBasic(t.Name); ok {
		return ptr + "C." + b.Cgo
	}
	return ptr + "C." + t.Name
}
