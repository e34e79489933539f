package cheader

import (
	"go/constant"
	gotoken "go/token"
	"sort"
	"strings"
)

type options struct {
	defines map[string]string
	ptrSize int
}

// Option configures Parse.
type Option func(*options)

// Define predefines an object-like macro, as -D does for a compiler.
func Define(name, value string) Option {
	return func(o *options) {
		o.defines[name] = value
	}
}

// PointerSize sets the target pointer size in bytes. The default is 8.
func PointerSize(n int) Option {
	return func(o *options) {
		o.ptrSize = n
	}
}

// Parse parses the header src. name is used in error positions.
func Parse(name string, src []byte, opts ...Option) (*Header, error) {
	o := options{defines: map[string]string{"_WIN32": "1"}, ptrSize: 8}
	for _, opt := range opts {
		opt(&o)
	}

	lines, err := logicalLines(name, string(src))
	if err != nil {
		return nil, err
	}
	pp, err := newPreprocessor(name, o.defines)
	if err != nil {
		return nil, err
	}
	if err = pp.run(lines); err != nil {
		return nil, err
	}
	toks, err := pp.expand(pp.code, map[string]bool{})
	if err != nil {
		return nil, err
	}

	p := &parser{
		file:     name,
		toks:     toks,
		ptrSize:  o.ptrSize,
		typedefs: map[string]CType{},
		records:  map[string]*Record{},
		enums:    map[string]*Enum{},
		enumVals: map[string]constant.Value{},
		funcs:    map[string]bool{},
		packAt:   pp.packAt,
	}
	if err = p.parse(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}

	h := &Header{File: name, Decls: p.decls}
	for _, mname := range pp.order {
		m := pp.defines[mname]
		if m == nil || m.fn || m.predefined {
			continue
		}
		c, ok := p.macroConst(pp, m)
		if !ok {
			h.Skipped = append(h.Skipped, mname)
			continue
		}
		h.Decls = append(h.Decls, c)
	}
	sort.SliceStable(h.Decls, func(i, j int) bool {
		a, b := h.Decls[i].DeclPos(), h.Decls[j].DeclPos()
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
	return h, nil
}

func (p *parser) macroConst(pp *preprocessor, m *macro) (*Const, bool) {
	if len(m.body) == 0 {
		return nil, false
	}
	toks, err := pp.expand(m.body, map[string]bool{m.name: true})
	if err != nil {
		return nil, false
	}
	v, err := evalTokens(p.file, toks, p, false)
	if err != nil {
		return nil, false
	}
	return &Const{Name: m.name, Value: v.v, Type: v.cast, Pos: m.pos}, true
}

type parser struct {
	file     string
	toks     []token
	i        int
	ptrSize  int
	decls    []Decl
	typedefs map[string]CType
	records  map[string]*Record
	enums    map[string]*Enum
	enumVals map[string]constant.Value
	funcs    map[string]bool
	anon     int
	packAt   func(Pos) int
	// err is the first error met while skipping tokens
	err error
}

func (p *parser) isType(name string) bool {
	if _, ok := p.typedefs[name]; ok {
		return true
	}
	_, ok := platform[name]
	return ok || keywordMacros[name] == "void"
}

func (p *parser) arith(t CType) (ityp, bool) {
	return arithOf(t, func(name string) (CType, bool) {
		t, ok := p.typedefs[name]
		return t, ok
	}, p.ptrSize)
}

func (p *parser) enumerator(name string) (constant.Value, bool) {
	v, ok := p.enumVals[name]
	return v, ok
}

func (p *parser) peek() token {
	return p.peekN(0)
}

func (p *parser) peekN(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	t := token{kind: tokEOF}
	if k := len(p.toks); k > 0 {
		t.pos = p.toks[k-1].pos
	}
	return t
}

func (p *parser) next() token {
	t := p.peek()
	if p.i < len(p.toks) {
		p.i++
	}
	return t
}

func (p *parser) expect(text string) error {
	if t := p.next(); !t.is(text) {
		return errorf(p.file, t.pos, "expected %q, found %s", text, t)
	}
	return nil
}

// word returns the current token with keyword macros such as VOID
// replaced by the keyword they stand for.
func (p *parser) word() string {
	t := p.peek()
	if t.kind != tokIdent {
		return ""
	}
	if k, ok := keywordMacros[t.text]; ok {
		return k
	}
	return t.text
}

func (p *parser) parse() error {
	depth := 0
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			if depth > 0 {
				return errorf(p.file, t.pos, "unterminated extern block")
			}
			return nil
		case t.is(";"):
			p.i++
		case t.is("extern") && p.peekN(1).kind == tokString:
			p.i += 2
			if p.peek().is("{") {
				p.i++
				depth++
			}
		case t.is("}") && depth > 0:
			p.i++
			depth--
		default:
			if err := p.declaration(); err != nil {
				return err
			}
		}
	}
}

// skipAttr consumes one attribute, calling convention, qualifier that
// does not affect the type, or source annotation.
func (p *parser) skipAttr() bool {
	t := p.peek()
	if t.kind != tokIdent {
		return false
	}
	if _, ok := p.typedefs[t.text]; ok {
		return false
	}
	switch {
	case parenAttrs[t.text]:
		p.i++
		if p.peek().is("(") {
			if p.err == nil && p.layoutAttr(t.text) {
				p.err = errorf(p.file, t.pos, "%s changes record layout and is not supported", t.text)
			}
			p.skipBalanced("(", ")")
		}
		return true
	case ignoredWords[t.text], t.text == "__extension__":
		p.i++
		return true
	case isSAL(t.text):
		p.i++
		if p.peek().is("(") {
			p.skipBalanced("(", ")")
		}
		return true
	}
	return false
}

// layoutAttr reports whether the attribute kw, whose parenthesized
// arguments start at the current token, overrides alignment or packing.
func (p *parser) layoutAttr(kw string) bool {
	arg := p.peekN(1)
	switch kw {
	case "DECLSPEC_ALIGN":
		return true
	case "__declspec", "_declspec":
		return arg.is("align")
	case "__attribute__":
		inner := p.peekN(2)
		return arg.is("(") && (inner.is("aligned") || inner.is("__aligned__") || inner.is("packed") || inner.is("__packed__"))
	case "__pragma", "_Pragma":
		return arg.is("pack") || arg.kind == tokString && strings.HasPrefix(strings.Trim(arg.text, `"`), "pack")
	}
	return false
}

func (p *parser) skipAttrs() {
	for p.skipAttr() {
	}
}

// skipBalanced skips from an opening token to its matching close.
func (p *parser) skipBalanced(open, close string) {
	depth := 0
	for {
		t := p.next()
		switch {
		case t.kind == tokEOF:
			return
		case t.is(open):
			depth++
		case t.is(close):
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// collect returns the tokens up to the first of stops at nesting depth 0.
func (p *parser) collect(stops ...string) []token {
	var (
		out   []token
		depth int
	)
	for {
		t := p.peek()
		if t.kind == tokEOF {
			return out
		}
		if depth == 0 {
			for _, s := range stops {
				if t.is(s) {
					return out
				}
			}
		}
		switch {
		case t.is("("), t.is("["), t.is("{"):
			depth++
		case t.is(")"), t.is("]"), t.is("}"):
			depth--
		}
		out = append(out, t)
		p.i++
	}
}

func (p *parser) constExpr(stops ...string) (cval, error) {
	at := p.peek().pos
	toks := p.collect(stops...)
	if len(toks) == 0 {
		return cval{}, errorf(p.file, at, "expected constant expression")
	}
	return evalTokens(p.file, toks, p, false)
}

type specs struct {
	pos     Pos
	typ     CType
	typedef bool
	static  bool
	// anonymous record or enum defined by these specifiers
	anonRec  *Record
	anonEnum *Enum
}

func (p *parser) specifiers() (*specs, error) {
	var (
		sp    = &specs{pos: p.peek().pos}
		words []string
		have  bool
	)
loop:
	for {
		if p.skipAttr() {
			continue
		}
		w := p.word()
		switch {
		case w == "":
			break loop
		case w == "typedef":
			sp.typedef = true
		case w == "extern":
		case w == "static":
			sp.static = true
		case w == "const":
			sp.typ.Const = true
		case typeWords[w]:
			words = append(words, w)
		case w == TagStruct || w == TagUnion:
			p.i++
			if err := p.recordSpec(sp, w); err != nil {
				return nil, err
			}
			have = true
			continue
		case w == TagEnum:
			p.i++
			if err := p.enumSpec(sp); err != nil {
				return nil, err
			}
			have = true
			continue
		case !have && len(words) == 0:
			sp.typ.Name = w
			have = true
		default:
			break loop
		}
		p.i++
	}
	switch {
	case len(words) > 0 && have:
		return nil, errorf(p.file, sp.pos, "conflicting type specifiers")
	case len(words) > 0:
		name, ok := normalize(words)
		if !ok {
			return nil, errorf(p.file, sp.pos, "invalid type specifier combination")
		}
		sp.typ.Name = name
	case !have:
		return nil, errorf(p.file, p.peek().pos, "expected type, found %s", p.peek())
	}
	return sp, nil
}

func (p *parser) recordSpec(sp *specs, kw string) error {
	p.skipAttrs()
	pos := p.peek().pos
	name := ""
	if p.peek().kind == tokIdent {
		name = p.next().text
	}
	p.skipAttrs()
	if !p.peek().is("{") {
		if name == "" {
			return errorf(p.file, pos, "expected %s tag or body, found %s", kw, p.peek())
		}
		sp.typ.Tag, sp.typ.Name = kw, name
		return nil
	}
	p.i++

	rec := p.records[name]
	switch {
	case rec == nil:
		rec = &Record{Name: name, Pos: pos}
	case !rec.Incomplete:
		return errorf(p.file, pos, "redefinition of %s %s", kw, name)
	}
	rec.Union = kw == TagUnion
	if p.packAt != nil {
		rec.Pack = p.packAt(pos)
	}
	fields, err := p.fields()
	if err != nil {
		return err
	}
	rec.Fields, rec.Incomplete = fields, false
	p.skipAttrs()

	sp.typ.Tag, sp.typ.Name = kw, name
	if name == "" {
		sp.typ.Record = rec
		sp.anonRec = rec
		return nil
	}
	if _, known := p.records[name]; !known {
		p.records[name] = rec
		p.decls = append(p.decls, rec)
	}
	return nil
}

func (p *parser) fields() ([]Field, error) {
	var fields []Field
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return nil, errorf(p.file, t.pos, "unterminated struct body")
		case t.is("}"):
			p.i++
			return fields, nil
		case t.is(";"):
			p.i++
			continue
		}
		sp, err := p.specifiers()
		if err != nil {
			return nil, err
		}
		if p.peek().is(";") {
			p.i++
			if sp.anonRec != nil {
				fields = append(fields, Field{Type: sp.typ})
			}
			continue
		}
		for {
			var f Field
			if !p.peek().is(":") {
				d, err := p.declarator(sp.typ, false)
				if err != nil {
					return nil, err
				}
				if d.fn != nil {
					return nil, errorf(p.file, d.pos, "function member %s", d.name)
				}
				f.Name, f.Type = d.name, d.typ
			} else {
				f.Type = sp.typ
			}
			if p.peek().is(":") {
				colon := p.next()
				v, err := p.constExpr(",", ";")
				if err != nil {
					return nil, err
				}
				n, ok := constant.Int64Val(v.v)
				if !ok || n < 0 || (n == 0 && f.Name != "") {
					return nil, errorf(p.file, colon.pos, "invalid bit-field width %s", v.v)
				}
				f.Bits = int(n)
				if n == 0 {
					f.Bits = -1
				}
			}
			fields = append(fields, f)
			if !p.peek().is(",") {
				break
			}
			p.i++
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
	}
}

func (p *parser) enumSpec(sp *specs) error {
	p.skipAttrs()
	pos := p.peek().pos
	name := ""
	if p.peek().kind == tokIdent {
		name = p.next().text
	}
	if p.peek().is(":") {
		// fixed underlying type; MSVC enums are int-sized regardless
		p.i++
		if _, err := p.specifiers(); err != nil {
			return err
		}
	}
	if !p.peek().is("{") {
		if name == "" {
			return errorf(p.file, pos, "expected enum tag or body, found %s", p.peek())
		}
		sp.typ.Tag, sp.typ.Name = TagEnum, name
		return nil
	}
	p.i++
	if _, dup := p.enums[name]; dup && name != "" {
		return errorf(p.file, pos, "redefinition of enum %s", name)
	}

	en := &Enum{Name: name, Pos: pos}
	next := constant.MakeInt64(0)
	for !p.peek().is("}") {
		id := p.next()
		if id.kind != tokIdent {
			return errorf(p.file, id.pos, "expected enumerator, found %s", id)
		}
		p.skipAttrs()
		v := next
		if p.peek().is("=") {
			p.i++
			c, err := p.constExpr(",", "}")
			if err != nil {
				return err
			}
			v = convert(c, intType)
		}
		en.Values = append(en.Values, EnumValue{Name: id.text, Value: v})
		p.enumVals[id.text] = v
		next = wrap(constant.BinaryOp(v, gotoken.ADD, constant.MakeInt64(1)), intType)
		if !p.peek().is(",") {
			break
		}
		p.i++
	}
	if err := p.expect("}"); err != nil {
		return err
	}

	sp.typ.Tag, sp.typ.Name = TagEnum, name
	if name == "" {
		sp.anonEnum = en
		return nil
	}
	p.enums[name] = en
	p.decls = append(p.decls, en)
	return nil
}

type declr struct {
	name string
	pos  Pos
	typ  CType
	// fn is set when the declarator declares a function; typ is then
	// unused.
	fn *FuncSig
}

// nestedDeclarator reports whether the '(' at the cursor starts a
// parenthesized declarator such as (WINAPI *PFN).
func (p *parser) nestedDeclarator() bool {
	for j := 1; ; j++ {
		t := p.peekN(j)
		switch {
		case t.is("*"):
			return true
		case t.kind == tokIdent && ignoredWords[t.text]:
		default:
			return false
		}
	}
}

func (p *parser) declarator(base CType, abstract bool) (declr, error) {
	d := declr{pos: p.peek().pos}
	t := base
	t.Dims = append([]int64(nil), base.Dims...)
ptrs:
	for {
		switch {
		case p.skipAttr():
		case p.peek().is("*"):
			p.i++
			t.Pointers++
		case p.word() == "const":
			p.i++
		default:
			break ptrs
		}
	}
	if p.peek().is("(") && p.nestedDeclarator() {
		p.i++
		inner := 0
		for {
			if p.skipAttr() {
				continue
			}
			if p.peek().is("*") {
				p.i++
				inner++
				continue
			}
			if p.word() == "const" {
				p.i++
				continue
			}
			break
		}
		if p.peek().kind == tokIdent {
			id := p.next()
			d.name, d.pos = id.text, id.pos
		} else if !abstract {
			return d, errorf(p.file, p.peek().pos, "expected name, found %s", p.peek())
		}
		dims, err := p.dims()
		if err != nil {
			return d, err
		}
		if err := p.expect(")"); err != nil {
			return d, err
		}
		if err := p.expect("("); err != nil {
			return d, err
		}
		sig, err := p.params()
		if err != nil {
			return d, err
		}
		sig.Result = t
		d.typ = CType{Func: &sig, Pointers: inner, Dims: dims}
		p.skipAttrs()
		return d, nil
	}

	if id := p.peek(); id.kind == tokIdent {
		p.i++
		d.name, d.pos = id.text, id.pos
	} else if !abstract {
		return d, errorf(p.file, id.pos, "expected name, found %s", id)
	}
	dims, err := p.dims()
	if err != nil {
		return d, err
	}
	t.Dims = append(t.Dims, dims...)
	if p.peek().is("(") {
		p.i++
		sig, err := p.params()
		if err != nil {
			return d, err
		}
		sig.Result = t
		d.fn = &sig
		p.skipAttrs()
	}
	d.typ = t
	return d, nil
}

func (p *parser) dims() ([]int64, error) {
	var dims []int64
	for p.peek().is("[") {
		open := p.next()
		if p.peek().is("]") {
			p.i++
			dims = append(dims, 0)
			continue
		}
		v, err := p.constExpr("]")
		if err != nil {
			return nil, err
		}
		n, ok := constant.Int64Val(constant.ToInt(v.v))
		if !ok || n < 0 {
			return nil, errorf(p.file, open.pos, "invalid array size %s", v.v)
		}
		dims = append(dims, n)
		if err := p.expect("]"); err != nil {
			return nil, err
		}
	}
	return dims, nil
}

// params parses a parameter list; the opening '(' is already consumed.
func (p *parser) params() (FuncSig, error) {
	var sig FuncSig
	if p.peek().is(")") {
		p.i++
		return sig, nil
	}
	if p.word() == "void" && p.peekN(1).is(")") {
		p.i += 2
		return sig, nil
	}
	for {
		if p.peek().is("...") {
			p.i++
			sig.Variadic = true
			break
		}
		sp, err := p.specifiers()
		if err != nil {
			return sig, err
		}
		d, err := p.declarator(sp.typ, true)
		if err != nil {
			return sig, err
		}
		t := d.typ
		switch {
		case d.fn != nil:
			t = CType{Func: d.fn, Pointers: 1}
		case len(t.Dims) > 1:
			return sig, errorf(p.file, d.pos, "multi-dimensional array parameter %s", d.name)
		case len(t.Dims) == 1:
			t.Dims = nil
			t.Pointers++
		}
		sig.Params = append(sig.Params, Param{Name: d.name, Type: t})
		if !p.peek().is(",") {
			break
		}
		p.i++
	}
	return sig, p.expect(")")
}

func (p *parser) declaration() error {
	sp, err := p.specifiers()
	if err != nil {
		return err
	}
	if p.peek().is(";") {
		p.i++
		p.tagOnly(sp)
		return nil
	}
	for first := true; ; first = false {
		d, err := p.declarator(sp.typ, false)
		if err != nil {
			return err
		}
		switch {
		case sp.typedef:
			p.addTypedef(sp, d, first)
		case d.fn != nil:
			if p.peek().is("{") {
				p.skipBalanced("{", "}")
				if !p.funcs[d.name] {
					p.funcs[d.name] = true
					p.decls = append(p.decls, &Func{Name: d.name, Sig: *d.fn, Inline: true, Pos: d.pos})
				}
				return nil
			}
			if !sp.static && !p.funcs[d.name] {
				p.funcs[d.name] = true
				p.decls = append(p.decls, &Func{Name: d.name, Sig: *d.fn, Pos: d.pos})
			}
		default:
			if p.peek().is("=") {
				p.i++
				p.collect(",", ";")
			}
			if !sp.static {
				p.nameAnon(sp, "_anon")
				if d.typ.Tag != "" && d.typ.Name == "" {
					d.typ.Name, d.typ.Record = sp.typ.Name, nil
				}
				p.decls = append(p.decls, &Var{Name: d.name, Type: d.typ, Pos: d.pos})
			}
		}
		if !p.peek().is(",") {
			break
		}
		p.i++
	}
	if sp.anonEnum != nil && !sp.typedef {
		p.decls = append(p.decls, sp.anonEnum)
	}
	return p.expect(";")
}

// tagOnly handles a declaration with no declarators: a tag definition,
// a forward declaration, or an unnamed enum.
func (p *parser) tagOnly(sp *specs) {
	switch t := sp.typ; {
	case sp.anonEnum != nil:
		p.decls = append(p.decls, sp.anonEnum)
	case (t.Tag == TagStruct || t.Tag == TagUnion) && t.Name != "":
		if _, ok := p.records[t.Name]; !ok {
			rec := &Record{Name: t.Name, Union: t.Tag == TagUnion, Incomplete: true, Pos: sp.pos}
			p.records[t.Name] = rec
			p.decls = append(p.decls, rec)
		}
	}
}

// nameAnon gives an unnamed record or enum the name prefix+N and
// declares it.
func (p *parser) nameAnon(sp *specs, prefix string) {
	switch {
	case sp.anonRec != nil:
		p.anon++
		sp.anonRec.Name = prefix + itoa(p.anon)
		sp.anonRec.Typedef = true
		p.decls = append(p.decls, sp.anonRec)
		sp.typ.Name, sp.typ.Record = sp.anonRec.Name, nil
		sp.anonRec = nil
	case sp.anonEnum != nil:
		p.anon++
		sp.anonEnum.Name = prefix + itoa(p.anon)
		sp.anonEnum.Typedef = true
		p.decls = append(p.decls, sp.anonEnum)
		sp.typ.Name = sp.anonEnum.Name
		sp.anonEnum = nil
	}
}

func (p *parser) addTypedef(sp *specs, d declr, first bool) {
	t := d.typ
	if d.fn != nil {
		t = CType{Func: d.fn}
	}
	plain := d.fn == nil && t.Func == nil && t.Pointers == sp.typ.Pointers && len(t.Dims) == 0
	if first && plain {
		switch {
		case sp.anonRec != nil:
			sp.anonRec.Name, sp.anonRec.Typedef = d.name, true
			p.decls = append(p.decls, sp.anonRec)
			sp.typ.Name, sp.typ.Record = d.name, nil
			sp.anonRec = nil
			p.typedefs[d.name] = sp.typ
			return
		case sp.anonEnum != nil:
			sp.anonEnum.Name, sp.anonEnum.Typedef = d.name, true
			p.decls = append(p.decls, sp.anonEnum)
			sp.typ.Name = d.name
			sp.anonEnum = nil
			p.typedefs[d.name] = sp.typ
			return
		}
	}
	if sp.anonRec != nil || sp.anonEnum != nil {
		p.nameAnon(sp, "_anon_"+d.name+"_")
		base := sp.typ
		base.Pointers, base.Dims = t.Pointers, t.Dims
		if t.Func == nil {
			t = base
		}
	}
	if _, ok := p.typedefs[d.name]; ok {
		// a repeated typedef is legal C
		return
	}
	p.typedefs[d.name] = t
	p.decls = append(p.decls, &Typedef{Name: d.name, Type: t, Pos: d.pos})
}

func itoa(n int) string {
	return constant.MakeInt64(int64(n)).String()
}
