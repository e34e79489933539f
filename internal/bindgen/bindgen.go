// Package bindgen generates a cgo binding file from a parsed C header.
//
// Every header name is kept verbatim: a function SocketRawOpen becomes a
// Go function SocketRawOpen calling C.SocketRawOpen, a struct tag
// _FOO_STATS becomes the Go struct _FOO_STATS with the same field names,
// and so on. Windows SDK types the header uses without declaring them get
// one alias each from a fixed table.
package bindgen

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/format"
	"go/parser"
	"go/token"
	"go/types"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rawsock/wsrbuild/internal/cheader"
)

// ErrUnsupported is returned when a declaration cannot be expressed in Go.
var ErrUnsupported = errors.New("unsupported declaration")

// Options configures Generate.
type Options struct {
	// Package is the Go package name. Defaults to "winsockraw".
	Package string
	// Include is the header named in the cgo preamble. Defaults to the
	// base name of the parsed file.
	Include string
	// GOARCH is "amd64" or "386". It selects the pointer size used for
	// layouts and the build constraint. Defaults to "amd64".
	GOARCH string
	// Opaque lists types emitted only as zero-size placeholders, whatever
	// the header says about them.
	Opaque []string
}

// Output is a generated binding file.
type Output struct {
	Source []byte
	// Skipped describes the declarations that have no binding, in header
	// order, as "name: reason".
	Skipped []string
}

// FileName returns the conventional name of the binding file for pkg.
func FileName(pkg, goarch string) string {
	return "z" + pkg + "_windows_" + goarch + ".go"
}

type generator struct {
	file    string
	ptrSize int64

	typedefs map[string]cheader.CType
	records  map[string]*cheader.Record
	enums    map[string]*cheader.Enum
	opaque   map[string]bool

	declared map[string]bool // Go names taken so far
	platform map[string]bool // SDK types referenced
	external map[string]bool // unknown names, emitted opaque

	body    bytes.Buffer
	skipped []string
}

// Generate renders the bindings for h. The output depends only on h and
// opts, so repeated runs produce identical bytes.
func Generate(h *cheader.Header, opts Options) (*Output, error) {
	if opts.Package == "" {
		opts.Package = "winsockraw"
	}
	if opts.Include == "" {
		opts.Include = filepath.Base(h.File)
	}
	if opts.GOARCH == "" {
		opts.GOARCH = "amd64"
	}
	g := &generator{
		file:     h.File,
		typedefs: map[string]cheader.CType{},
		records:  map[string]*cheader.Record{},
		enums:    map[string]*cheader.Enum{},
		opaque:   map[string]bool{},
		declared: map[string]bool{},
		platform: map[string]bool{},
		external: map[string]bool{},
	}
	switch opts.GOARCH {
	case "amd64":
		g.ptrSize = 8
	case "386":
		g.ptrSize = 4
	default:
		return nil, fmt.Errorf("bindgen: unsupported GOARCH %q", opts.GOARCH)
	}
	for _, name := range opts.Opaque {
		g.opaque[name] = true
	}
	for _, d := range h.Decls {
		switch d := d.(type) {
		case *cheader.Typedef:
			g.typedefs[d.Name] = d.Type
		case *cheader.Record:
			g.records[d.Name] = d
		case *cheader.Enum:
			if d.Name != "" {
				g.enums[d.Name] = d
			}
		}
	}

	for _, d := range h.Decls {
		if err := g.decl(d); err != nil {
			return nil, err
		}
	}
	if err := g.sdkTypes(h); err != nil {
		return nil, err
	}
	g.placeholders(opts.Opaque)

	var out bytes.Buffer
	fmt.Fprintf(&out, "// Code generated by wsrbuild from %s. DO NOT EDIT.\n\n", filepath.Base(h.File))
	fmt.Fprintf(&out, "//go:build windows && %s\n\n", opts.GOARCH)
	fmt.Fprintf(&out, "package %s\n\n", opts.Package)
	fmt.Fprintf(&out, "/*\n#include %s\n*/\nimport \"C\"\n\n", strconv.Quote(opts.Include))
	head := out.Len()
	out.Write(g.body.Bytes())

	uses, err := usesUnsafe(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("bindgen: generated invalid Go: %w", err)
	}
	if uses {
		src := append([]byte(nil), out.Bytes()[:head]...)
		src = append(src, "import \"unsafe\"\n\n"...)
		src = append(src, g.body.Bytes()...)
		out.Reset()
		out.Write(src)
	}

	src, err := format.Source(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("bindgen: formatting output: %w", err)
	}
	return &Output{Source: src, Skipped: g.skipped}, nil
}

// usesUnsafe reports whether src refers to package unsafe.
func usesUnsafe(src []byte) (bool, error) {
	f, err := parser.ParseFile(token.NewFileSet(), "", src, parser.SkipObjectResolution)
	if err != nil {
		return false, err
	}
	found := false
	ast.Inspect(f, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok && id.Name == "unsafe" {
				found = true
			}
		}
		return !found
	})
	return found, nil
}

func (g *generator) skip(name, format string, args ...any) {
	g.skipped = append(g.skipped, name+": "+fmt.Sprintf(format, args...))
}

func (g *generator) errorf(d cheader.Decl, format string, args ...any) error {
	return fmt.Errorf("%w: %s:%s: %s: %s", ErrUnsupported, g.file, d.DeclPos(), d.DeclName(), fmt.Sprintf(format, args...))
}

// claim reserves name for a top-level Go declaration.
func (g *generator) claim(name string) bool {
	switch {
	case name == "" || name == "_" || name == "init" || name == "C" || name == "unsafe":
		g.skip(name, "not a usable Go name")
		return false
	case token.IsKeyword(name):
		g.skip(name, "Go keyword")
		return false
	case types.Universe.Lookup(name) != nil:
		g.skip(name, "shadows a predeclared Go identifier")
		return false
	case g.declared[name]:
		g.skip(name, "duplicate name")
		return false
	}
	g.declared[name] = true
	return true
}

func (g *generator) printf(format string, args ...any) {
	fmt.Fprintf(&g.body, format, args...)
}

func (g *generator) decl(d cheader.Decl) error {
	switch d := d.(type) {
	case *cheader.Const:
		return g.constant(d)
	case *cheader.Enum:
		return g.enum(d)
	case *cheader.Typedef:
		return g.typedef(d)
	case *cheader.Record:
		return g.record(d)
	case *cheader.Func:
		return g.function(d)
	case *cheader.Var:
		return g.variable(d)
	}
	return nil
}

func (g *generator) constant(c *cheader.Const) error {
	lit, err := constLit(c.Value)
	if err != nil {
		return g.errorf(c, "%v", err)
	}
	typ := ""
	if c.Type != nil {
		t, err := g.goType(*c.Type, true)
		if err != nil {
			return g.errorf(c, "%v", err)
		}
		typ = " " + t
	}
	if g.claim(c.Name) {
		g.printf("const %s%s = %s\n\n", c.Name, typ, lit)
	}
	return nil
}

func constLit(v constant.Value) (string, error) {
	switch v.Kind() {
	case constant.Int:
		return v.ExactString(), nil
	case constant.String:
		return strconv.Quote(constant.StringVal(v)), nil
	case constant.Float:
		f, _ := constant.Float64Val(v)
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		return s, nil
	case constant.Bool:
		if constant.BoolVal(v) {
			return "1", nil
		}
		return "0", nil
	}
	return "", fmt.Errorf("constant of kind %s", v.Kind())
}

func (g *generator) enum(e *cheader.Enum) error {
	typ := ""
	if e.Name != "" {
		if !g.claim(e.Name) {
			return nil
		}
		// MSVC enums are int-sized
		g.printf("type %s int32\n\n", e.Name)
		typ = " " + e.Name
	}
	var consts []string
	for _, v := range e.Values {
		if g.claim(v.Name) {
			consts = append(consts, fmt.Sprintf("\t%s%s = %s\n", v.Name, typ, v.Value.ExactString()))
		}
	}
	if len(consts) > 0 {
		g.printf("const (\n%s)\n\n", strings.Join(consts, ""))
	}
	return nil
}

func (g *generator) typedef(td *cheader.Typedef) error {
	t := td.Type
	if t.Tag != "" && t.Name == td.Name && t.Pointers == 0 && len(t.Dims) == 0 {
		// typedef struct X X: the tag already carries the name
		return nil
	}
	if r := g.records[td.Name]; r != nil && r.Typedef && t.Pointers == 0 && len(t.Dims) == 0 && (t.Record == r || t.Name == td.Name) {
		// the typedef named an untagged record, which is emitted under it
		return nil
	}
	if g.opaque[td.Name] {
		g.skip(td.Name, "declared opaque")
		return nil
	}
	typ, err := g.goType(t, false)
	if err != nil {
		return g.errorf(td, "%v", err)
	}
	if g.claim(td.Name) {
		g.printf("type %s = %s\n\n", td.Name, typ)
	}
	return nil
}

func (g *generator) record(r *cheader.Record) error {
	switch {
	case g.opaque[r.Name]:
		g.skip(r.Name, "declared opaque")
		return nil
	case r.Incomplete:
		if g.claim(r.Name) {
			g.printf("type %s struct{ _ [0]byte }\n\n", r.Name)
		}
		return nil
	}
	body, err := g.structType(r)
	if err != nil {
		return g.errorf(r, "%v", err)
	}
	if g.claim(r.Name) {
		g.printf("type %s %s\n\n", r.Name, body)
	}
	return nil
}

func (g *generator) function(f *cheader.Func) error {
	if f.Inline {
		g.skip(f.Name, "inline definition is not exported from the DLL")
		return nil
	}
	if f.Sig.Variadic {
		g.skip(f.Name, "variadic functions cannot be called through cgo")
		return nil
	}
	names := paramNames(f.Sig.Params)
	var (
		params []string
		args   []string
	)
	for i, p := range f.Sig.Params {
		typ, err := g.goType(p.Type, true)
		if err != nil {
			return g.errorf(f, "parameter %d: %v", i+1, err)
		}
		params = append(params, names[i]+" "+typ)
		args = append(args, g.reinterpret(p.Type, "&"+names[i]))
	}
	call := fmt.Sprintf("C.%s(%s)", f.Name, strings.Join(args, ", "))

	if f.Sig.Result.IsVoid() {
		if g.claim(f.Name) {
			g.printf("func %s(%s) {\n\t%s\n}\n\n", f.Name, strings.Join(params, ", "), call)
		}
		return nil
	}
	res, err := g.goType(f.Sig.Result, true)
	if err != nil {
		return g.errorf(f, "result: %v", err)
	}
	if g.claim(f.Name) {
		g.printf("func %s(%s) (ret %s) {\n\t%s = %s\n\treturn\n}\n\n",
			f.Name, strings.Join(params, ", "), res, g.reinterpret(f.Sig.Result, "&ret"), call)
	}
	return nil
}

// reinterpret views the Go value at addr as the cgo type of t. Go and
// cgo types of the same C type share their layout.
func (g *generator) reinterpret(t cheader.CType, addr string) string {
	return fmt.Sprintf("*(*%s)(unsafe.Pointer(%s))", g.cgoType(t), addr)
}

// variable exposes an extern variable through an accessor returning its
// address.
func (g *generator) variable(v *cheader.Var) error {
	typ, err := g.goType(v.Type, true)
	if err != nil {
		return g.errorf(v, "%v", err)
	}
	if g.claim(v.Name) {
		g.printf("func %s() *%s {\n\treturn (*%s)(unsafe.Pointer(&C.%s))\n}\n\n", v.Name, typ, typ, v.Name)
	}
	return nil
}

func paramNames(params []cheader.Param) []string {
	used := map[string]bool{"C": true, "unsafe": true, "ret": true}
	names := make([]string, len(params))
	for i, p := range params {
		n := p.Name
		if n == "" || n == "_" {
			n = "p" + strconv.Itoa(i)
		}
		if token.IsKeyword(n) {
			n = "_" + n
		}
		for used[n] {
			n = "_" + n
		}
		used[n] = true
		names[i] = n
	}
	return names
}

// sdkTypes emits the Windows SDK types referenced so far, and the ones
// those refer to, in name order.
func (g *generator) sdkTypes(h *cheader.Header) error {
	defs := map[string]string{}
	for {
		var todo []string
		for name := range g.platform {
			if _, ok := defs[name]; !ok {
				todo = append(todo, name)
			}
		}
		if len(todo) == 0 {
			break
		}
		sort.Strings(todo)
		for _, name := range todo {
			t, _ := cheader.PlatformType(name)
			typ, err := g.goType(t, false)
			if err != nil {
				return fmt.Errorf("%w: SDK type %s: %v", ErrUnsupported, name, err)
			}
			defs[name] = typ
		}
	}
	if len(defs) == 0 {
		return nil
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	g.printf("// Windows SDK types used by %s.\n\n", filepath.Base(h.File))
	for _, name := range names {
		if g.claim(name) {
			g.printf("type %s = %s\n", name, defs[name])
		}
	}
	g.printf("\n")

	if g.platform["BOOL"] && h.Lookup("TRUE") == nil && h.Lookup("FALSE") == nil {
		g.declared["TRUE"], g.declared["FALSE"] = true, true
		g.printf("const (\n\tFALSE BOOL = 0\n\tTRUE  BOOL = 1\n)\n\n")
	}
	return nil
}

// placeholders emits the zero-size types: names the header uses but
// never defines, then the configured opaque types.
func (g *generator) placeholders(opaque []string) {
	ext := make([]string, 0, len(g.external))
	for name := range g.external {
		if !g.opaque[name] {
			ext = append(ext, name)
		}
	}
	sort.Strings(ext)
	for _, name := range ext {
		if g.claim(name) {
			g.printf("type %s struct{ _ [0]byte }\n\n", name)
		}
	}
	for _, name := range opaque {
		if g.claim(name) {
			g.printf("type %s struct{ _ [0]byte }\n\n", name)
		}
	}
}
