// Package cheader parses standalone C headers of the kind shipped with
// Windows DLLs into an ordered list of declarations.
//
// Only the header's own declarations are returned. Names that come from
// included system headers (HANDLE, ULONG, ...) stay unresolved references
// for the consumer to map.
package cheader

import (
	"fmt"
	"go/constant"
	"strings"
)

// Pos is a position in the header.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Tag kinds for CType.Tag.
const (
	TagStruct = "struct"
	TagUnion  = "union"
	TagEnum   = "enum"
)

// CType is a C type as written: a base name, optionally tagged, wrapped in
// pointers and arrays.
type CType struct {
	// Name is a keyword spelling ("unsigned long", "void"), a typedef name,
	// or a tag name when Tag is set.
	Name     string
	Tag      string
	Pointers int
	Const    bool
	// Dims are array dimensions, outermost first.
	Dims []int64
	// Func is set for function pointer types; Pointers counts the
	// pointer levels applied to the function.
	Func *FuncSig
	// Record is the inline definition of an unnamed struct or union member.
	Record *Record
}

// IsVoid reports whether t is plain void.
func (t CType) IsVoid() bool {
	return t.Name == "void" && t.Tag == "" && t.Pointers == 0 && len(t.Dims) == 0 && t.Func == nil
}

// Elem returns t with one pointer level removed.
func (t CType) Elem() CType {
	t.Pointers--
	return t
}

func (t CType) String() string {
	var b strings.Builder
	if t.Const {
		b.WriteString("const ")
	}
	if t.Func != nil {
		b.WriteString(t.Func.Result.String())
		b.WriteString(" (")
		b.WriteString(strings.Repeat("*", t.Pointers))
		b.WriteString(")(")
		for i, p := range t.Func.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Type.String())
		}
		if t.Func.Variadic {
			b.WriteString(", ...")
		}
		b.WriteString(")")
		return b.String()
	}
	if t.Tag != "" {
		b.WriteString(t.Tag)
		b.WriteByte(' ')
	}
	b.WriteString(t.Name)
	if t.Pointers > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Repeat("*", t.Pointers))
	}
	for _, d := range t.Dims {
		fmt.Fprintf(&b, "[%d]", d)
	}
	return b.String()
}

// Param is a function parameter. Name may be empty.
type Param struct {
	Name string
	Type CType
}

// FuncSig is a function signature.
type FuncSig struct {
	Result   CType
	Params   []Param
	Variadic bool
}

// Decl is a top-level declaration.
type Decl interface {
	DeclName() string
	DeclPos() Pos
}

// Func is a function prototype.
type Func struct {
	Name string
	Sig  FuncSig
	// Inline is set for a definition with a body in the header. Such
	// functions are compiled into each includer, not exported.
	Inline bool
	Pos    Pos
}

// Var is an extern variable.
type Var struct {
	Name string
	Type CType
	Pos  Pos
}

// Const is an object-like macro or enumerator with a constant value.
type Const struct {
	Name  string
	Value constant.Value
	// Type names the type the value was cast to, empty when untyped.
	Type *CType
	Pos  Pos
}

// Typedef introduces Name as an alias of Type.
type Typedef struct {
	Name string
	Type CType
	Pos  Pos
}

// Field is a struct or union member. An anonymous nested record has an
// empty Name and its Type.Tag/Name refers to the nested record.
type Field struct {
	Name string
	Type CType
	// Bits is the bit-field width: 0 for ordinary members, -1 for a
	// zero-width bit-field.
	Bits int
}

// Record is a struct or union definition. A record referenced but never
// defined has Incomplete set.
type Record struct {
	Name       string
	Union      bool
	Fields     []Field
	Incomplete bool
	// Typedef is set when the record has no tag and Name comes from the
	// typedef that introduced it.
	Typedef bool
	// Pack is the #pragma pack value the record was defined under, 0 for
	// natural alignment.
	Pack int
	Pos  Pos
}

// Tag returns TagStruct or TagUnion.
func (r *Record) Tag() string {
	if r.Union {
		return TagUnion
	}
	return TagStruct
}

// HasBitfields reports whether any member is a bit-field.
func (r *Record) HasBitfields() bool {
	for _, f := range r.Fields {
		if f.Bits != 0 {
			return true
		}
	}
	return false
}

// EnumValue is one enumerator.
type EnumValue struct {
	Name  string
	Value constant.Value
}

// Enum is an enumeration definition.
type Enum struct {
	Name   string
	Values []EnumValue
	// Typedef has the same meaning as for Record.
	Typedef bool
	Pos     Pos
}

func (d *Func) DeclName() string    { return d.Name }
func (d *Var) DeclName() string     { return d.Name }
func (d *Const) DeclName() string   { return d.Name }
func (d *Typedef) DeclName() string { return d.Name }
func (d *Record) DeclName() string  { return d.Name }
func (d *Enum) DeclName() string    { return d.Name }

func (d *Func) DeclPos() Pos    { return d.Pos }
func (d *Var) DeclPos() Pos     { return d.Pos }
func (d *Const) DeclPos() Pos   { return d.Pos }
func (d *Typedef) DeclPos() Pos { return d.Pos }
func (d *Record) DeclPos() Pos  { return d.Pos }
func (d *Enum) DeclPos() Pos    { return d.Pos }

// Header is a parsed header.
type Header struct {
	File  string
	Decls []Decl
	// Skipped lists object-like macros that are not constants, such as
	// export attribute macros.
	Skipped []string
}

// Record returns the record with the given tag name.
func (h *Header) Record(name string) *Record {
	for _, d := range h.Decls {
		if r, ok := d.(*Record); ok && r.Name == name {
			return r
		}
	}
	return nil
}

// Lookup returns the declaration named name, or nil.
func (h *Header) Lookup(name string) Decl {
	for _, d := range h.Decls {
		if d.DeclName() == name {
			return d
		}
	}
	return nil
}
