package cheader

import (
	"go/constant"
	gotoken "go/token"
	"math"
	"strconv"
	"strings"
)

// ityp is the C type of a constant value.
type ityp struct {
	bits     int
	unsigned bool
	float    bool
	str      bool
}

var intType = ityp{bits: 32}

type cval struct {
	v   constant.Value
	typ ityp
	// cast is the target of the outermost cast, nil when the expression
	// is not a cast.
	cast *CType
}

func (c cval) isZero() bool {
	switch c.v.Kind() {
	case constant.Int, constant.Float:
		return constant.Sign(c.v) == 0
	case constant.Bool:
		return !constant.BoolVal(c.v)
	}
	return false
}

func boolVal(b bool) cval {
	if b {
		return cval{v: constant.MakeInt64(1), typ: intType}
	}
	return cval{v: constant.MakeInt64(0), typ: intType}
}

// resolver supplies what the header has declared so far.
type resolver interface {
	isType(name string) bool
	arith(t CType) (ityp, bool)
	enumerator(name string) (constant.Value, bool)
}

type evaluator struct {
	file string
	toks []token
	i    int
	res  resolver
	// cond is set when evaluating #if, where unknown names are 0
	cond bool
}

// evalTokens evaluates a complete constant expression.
func evalTokens(file string, toks []token, res resolver, cond bool) (cval, error) {
	e := &evaluator{file: file, toks: toks, res: res, cond: cond}
	if len(toks) == 0 {
		return cval{}, errorf(file, Pos{}, "empty constant expression")
	}
	v, err := e.ternary()
	if err != nil {
		return cval{}, err
	}
	if e.i < len(e.toks) {
		return cval{}, e.errorf("unexpected %s in constant expression", e.peek())
	}
	return v, nil
}

func (e *evaluator) peek() token {
	if e.i < len(e.toks) {
		return e.toks[e.i]
	}
	t := token{kind: tokEOF}
	if n := len(e.toks); n > 0 {
		t.pos = e.toks[n-1].pos
	}
	return t
}

func (e *evaluator) next() token {
	t := e.peek()
	if e.i < len(e.toks) {
		e.i++
	}
	return t
}

func (e *evaluator) expect(text string) error {
	if t := e.next(); !t.is(text) {
		return errorf(e.file, t.pos, "expected %q, found %s", text, t)
	}
	return nil
}

func (e *evaluator) errorf(format string, args ...any) error {
	return errorf(e.file, e.peek().pos, format, args...)
}

func (e *evaluator) ternary() (cval, error) {
	c, err := e.binary(1)
	if err != nil || !e.peek().is("?") {
		return c, err
	}
	e.i++
	a, err := e.ternary()
	if err != nil {
		return cval{}, err
	}
	if err := e.expect(":"); err != nil {
		return cval{}, err
	}
	b, err := e.ternary()
	if err != nil {
		return cval{}, err
	}
	t := usual(a.typ, b.typ)
	if !c.isZero() {
		return cval{v: convert(a, t), typ: t}, nil
	}
	return cval{v: convert(b, t), typ: t}, nil
}

func precedence(op string) int {
	switch op {
	case "||":
		return 1
	case "&&":
		return 2
	case "|":
		return 3
	case "^":
		return 4
	case "&":
		return 5
	case "==", "!=":
		return 6
	case "<", ">", "<=", ">=":
		return 7
	case "<<", ">>":
		return 8
	case "+", "-":
		return 9
	case "*", "/", "%":
		return 10
	}
	return 0
}

func (e *evaluator) binary(min int) (cval, error) {
	x, err := e.unary()
	if err != nil {
		return cval{}, err
	}
	for {
		op := e.peek()
		prec := precedence(op.text)
		if op.kind != tokPunct || prec == 0 || prec < min {
			return x, nil
		}
		e.i++
		y, err := e.binary(prec + 1)
		if err != nil {
			return cval{}, err
		}
		if x, err = e.apply(op, x, y); err != nil {
			return cval{}, err
		}
	}
}

var arithOps = map[string]gotoken.Token{
	"+": gotoken.ADD,
	"-": gotoken.SUB,
	"*": gotoken.MUL,
	"&": gotoken.AND,
	"|": gotoken.OR,
	"^": gotoken.XOR,
	"%": gotoken.REM,
}

var cmpOps = map[string]gotoken.Token{
	"==": gotoken.EQL,
	"!=": gotoken.NEQ,
	"<":  gotoken.LSS,
	">":  gotoken.GTR,
	"<=": gotoken.LEQ,
	">=": gotoken.GEQ,
}

func (e *evaluator) apply(op token, x, y cval) (cval, error) {
	if x.typ.str || y.typ.str {
		return cval{}, errorf(e.file, op.pos, "operator %s applied to a string", op.text)
	}
	switch op.text {
	case "&&":
		return boolVal(!x.isZero() && !y.isZero()), nil
	case "||":
		return boolVal(!x.isZero() || !y.isZero()), nil
	case "<<", ">>":
		if x.typ.float || y.typ.float {
			return cval{}, errorf(e.file, op.pos, "shift of a floating constant")
		}
		t := promote(x.typ)
		n, ok := constant.Int64Val(y.v)
		if !ok || n < 0 || n >= int64(t.bits) {
			return cval{}, errorf(e.file, op.pos, "shift count %s out of range", y.v)
		}
		tok := gotoken.SHL
		if op.text == ">>" {
			tok = gotoken.SHR
		}
		return cval{v: wrap(constant.Shift(convert(x, t), tok, uint(n)), t), typ: t}, nil
	}

	t := usual(x.typ, y.typ)
	xv, yv := convert(x, t), convert(y, t)
	if tok, ok := cmpOps[op.text]; ok {
		return boolVal(constant.Compare(xv, tok, yv)), nil
	}
	if op.text == "/" || op.text == "%" {
		if constant.Sign(yv) == 0 {
			return cval{}, errorf(e.file, op.pos, "division by zero")
		}
	}
	if op.text == "/" {
		tok := gotoken.QUO
		if !t.float {
			tok = gotoken.QUO_ASSIGN // integer division
		}
		return cval{v: wrap(constant.BinaryOp(xv, tok, yv), t), typ: t}, nil
	}
	tok, ok := arithOps[op.text]
	if !ok {
		return cval{}, errorf(e.file, op.pos, "unsupported operator %s", op.text)
	}
	if t.float && tok != gotoken.ADD && tok != gotoken.SUB && tok != gotoken.MUL {
		return cval{}, errorf(e.file, op.pos, "operator %s applied to a floating constant", op.text)
	}
	return cval{v: wrap(constant.BinaryOp(xv, tok, yv), t), typ: t}, nil
}

func (e *evaluator) unary() (cval, error) {
	t := e.peek()
	if t.kind != tokPunct {
		return e.primary()
	}
	switch t.text {
	case "-", "+", "~", "!":
		e.i++
		x, err := e.unary()
		if err != nil {
			return cval{}, err
		}
		if x.typ.str {
			return cval{}, errorf(e.file, t.pos, "operator %s applied to a string", t.text)
		}
		switch t.text {
		case "!":
			return boolVal(x.isZero()), nil
		case "+":
			pt := promote(x.typ)
			return cval{v: convert(x, pt), typ: pt}, nil
		case "-":
			pt := promote(x.typ)
			return cval{v: wrap(constant.UnaryOp(gotoken.SUB, convert(x, pt), 0), pt), typ: pt}, nil
		}
		if x.typ.float {
			return cval{}, errorf(e.file, t.pos, "operator ~ applied to a floating constant")
		}
		pt := promote(x.typ)
		return cval{v: wrap(constant.UnaryOp(gotoken.XOR, convert(x, pt), 0), pt), typ: pt}, nil
	case "(":
		if e.isCast() {
			return e.cast()
		}
		e.i++
		x, err := e.ternary()
		if err != nil {
			return cval{}, err
		}
		return x, e.expect(")")
	}
	return cval{}, errorf(e.file, t.pos, "unexpected %s in constant expression", t)
}

// isCast reports whether the '(' at the cursor opens a type name.
func (e *evaluator) isCast() bool {
	if e.i+1 >= len(e.toks) {
		return false
	}
	t := e.toks[e.i+1]
	if t.kind != tokIdent {
		return false
	}
	switch {
	case typeWords[t.text], t.text == "const", t.text == "volatile",
		t.text == TagStruct, t.text == TagUnion, t.text == TagEnum:
		return true
	case keywordMacros[t.text] == "void", keywordMacros[t.text] == "const":
		return true
	}
	if e.res != nil {
		return e.res.isType(t.text)
	}
	_, ok := platform[t.text]
	return ok
}

func (e *evaluator) cast() (cval, error) {
	open := e.next()
	var (
		ct    CType
		words []string
	)
	for {
		t := e.peek()
		if t.kind != tokIdent {
			break
		}
		e.i++
		w := t.text
		if k, ok := keywordMacros[w]; ok {
			w = k
		}
		switch {
		case w == "const":
			ct.Const = true
		case w == "volatile", ignoredWords[w]:
		case typeWords[w]:
			words = append(words, w)
		case w == TagStruct || w == TagUnion || w == TagEnum:
			name := e.next()
			if name.kind != tokIdent {
				return cval{}, errorf(e.file, name.pos, "expected tag name, found %s", name)
			}
			ct.Tag, ct.Name = w, name.text
		case ct.Name == "" && len(words) == 0:
			ct.Name = w
		default:
			return cval{}, errorf(e.file, t.pos, "unexpected %q in cast", w)
		}
	}
	if len(words) > 0 {
		name, ok := normalize(words)
		if !ok || ct.Name != "" {
			return cval{}, errorf(e.file, open.pos, "invalid type in cast")
		}
		ct.Name = name
	}
	for e.peek().is("*") {
		e.i++
		ct.Pointers++
	}
	if err := e.expect(")"); err != nil {
		return cval{}, err
	}
	x, err := e.unary()
	if err != nil {
		return cval{}, err
	}
	if ct.Pointers > 0 {
		return cval{}, errorf(e.file, open.pos, "pointer cast is not a constant")
	}
	if ct.IsVoid() {
		return cval{}, errorf(e.file, open.pos, "cast to void is not a constant")
	}
	var (
		t  ityp
		ok bool
	)
	if e.res != nil {
		t, ok = e.res.arith(ct)
	} else {
		t, ok = arithOf(ct, nil, 8)
	}
	if !ok || x.typ.str {
		return cval{}, errorf(e.file, open.pos, "cannot cast to %s", ct)
	}
	v := convert(x, t)
	if ct.Name == "_Bool" {
		v = boolVal(constant.Sign(v) != 0).v
	}
	return cval{v: v, typ: t, cast: &ct}, nil
}

func (e *evaluator) primary() (cval, error) {
	t := e.next()
	switch t.kind {
	case tokInt:
		return e.intLit(t)
	case tokFloat:
		text := t.text
		bits := 64
		switch text[len(text)-1] {
		case 'f', 'F':
			bits = 32
			text = text[:len(text)-1]
		case 'l', 'L':
			text = text[:len(text)-1]
		}
		v := constant.MakeFromLiteral(text, gotoken.FLOAT, 0)
		if v.Kind() == constant.Unknown {
			return cval{}, errorf(e.file, t.pos, "bad floating literal %s", t.text)
		}
		return cval{v: v, typ: ityp{bits: bits, float: true}}, nil
	case tokChar:
		s, err := cUnquote(t.text[1 : len(t.text)-1])
		if err != nil || len(s) != 1 {
			return cval{}, errorf(e.file, t.pos, "unsupported character constant %s", t.text)
		}
		// char is signed under MSVC
		return cval{v: constant.MakeInt64(int64(int8(s[0]))), typ: intType}, nil
	case tokString:
		var b strings.Builder
		for {
			s, err := cUnquote(t.text[1 : len(t.text)-1])
			if err != nil {
				return cval{}, errorf(e.file, t.pos, "%v", err)
			}
			b.WriteString(s)
			if e.peek().kind != tokString {
				break
			}
			t = e.next()
		}
		return cval{v: constant.MakeString(b.String()), typ: ityp{str: true}}, nil
	case tokIdent:
		if e.cond {
			if t.text == "true" {
				return boolVal(true), nil
			}
			return boolVal(false), nil
		}
		if e.res != nil {
			if v, ok := e.res.enumerator(t.text); ok {
				return cval{v: v, typ: intType}, nil
			}
		}
		return cval{}, errorf(e.file, t.pos, "%s is not a constant", t.text)
	}
	return cval{}, errorf(e.file, t.pos, "unexpected %s in constant expression", t)
}

var (
	int32T  = ityp{bits: 32}
	uint32T = ityp{bits: 32, unsigned: true}
	int64T  = ityp{bits: 64}
	uint64T = ityp{bits: 64, unsigned: true}
)

func (e *evaluator) intLit(t token) (cval, error) {
	k := strings.IndexAny(t.text, "uUlLiI")
	num, suf := t.text, ""
	if k > 0 {
		num, suf = t.text[:k], strings.ToLower(t.text[k:])
	}
	v := constant.MakeFromLiteral(num, gotoken.INT, 0)
	if v.Kind() != constant.Int {
		return cval{}, errorf(e.file, t.pos, "bad integer literal %s", t.text)
	}
	decimal := !strings.HasPrefix(num, "0") || num == "0"
	var cands []ityp
	switch suf {
	case "", "l":
		if decimal {
			cands = []ityp{int32T, int64T}
		} else {
			cands = []ityp{int32T, uint32T, int64T, uint64T}
		}
	case "u", "ul", "lu":
		cands = []ityp{uint32T, uint64T}
	case "ll", "i64":
		cands = []ityp{int64T}
		if !decimal {
			cands = append(cands, uint64T)
		}
	case "ull", "llu", "ui64":
		cands = []ityp{uint64T}
	case "i8", "i16", "i32":
		cands = []ityp{int32T}
	case "ui8", "ui16", "ui32":
		cands = []ityp{uint32T}
	default:
		return cval{}, errorf(e.file, t.pos, "bad integer suffix %s", t.text)
	}
	for _, c := range cands {
		if fits(v, c) {
			return cval{v: v, typ: c}, nil
		}
	}
	return cval{}, errorf(e.file, t.pos, "integer literal %s too large", t.text)
}

func pow2(n int) constant.Value {
	return constant.Shift(constant.MakeInt64(1), gotoken.SHL, uint(n))
}

func fits(v constant.Value, t ityp) bool {
	lo, hi := constant.MakeInt64(0), pow2(t.bits)
	if !t.unsigned {
		lo = constant.UnaryOp(gotoken.SUB, pow2(t.bits-1), 0)
		hi = pow2(t.bits - 1)
	}
	return constant.Compare(v, gotoken.GEQ, lo) && constant.Compare(v, gotoken.LSS, hi)
}

// wrap reduces an integer value to the range of t, two's complement.
func wrap(v constant.Value, t ityp) constant.Value {
	if t.float || t.str || v.Kind() != constant.Int {
		return v
	}
	mod := pow2(t.bits)
	v = constant.BinaryOp(v, gotoken.REM, mod)
	if constant.Sign(v) < 0 {
		v = constant.BinaryOp(v, gotoken.ADD, mod)
	}
	if !t.unsigned && constant.Compare(v, gotoken.GEQ, pow2(t.bits-1)) {
		v = constant.BinaryOp(v, gotoken.SUB, mod)
	}
	return v
}

// convert returns c's value as a value of type t.
func convert(c cval, t ityp) constant.Value {
	v := c.v
	if t.float {
		return constant.ToFloat(v)
	}
	if v.Kind() == constant.Float {
		f, _ := constant.Float64Val(v)
		v = constant.MakeInt64(int64(math.Trunc(f)))
	}
	return wrap(v, t)
}

func promote(t ityp) ityp {
	if !t.float && !t.str && t.bits < 32 {
		return intType
	}
	return t
}

// usual applies C's usual arithmetic conversions.
func usual(a, b ityp) ityp {
	if a.float || b.float {
		bits := 32
		if (a.float && a.bits > 32) || (b.float && b.bits > 32) {
			bits = 64
		}
		return ityp{bits: bits, float: true}
	}
	a, b = promote(a), promote(b)
	switch {
	case a.bits > b.bits:
		return a
	case b.bits > a.bits:
		return b
	}
	return ityp{bits: a.bits, unsigned: a.unsigned || b.unsigned}
}

// arithOf returns the arithmetic type of t, resolving names through
// lookup and then the platform table.
func arithOf(t CType, lookup func(string) (CType, bool), ptrSize int) (ityp, bool) {
	for depth := 0; depth < 32; depth++ {
		if t.Pointers > 0 || len(t.Dims) > 0 || t.Func != nil {
			return ityp{}, false
		}
		switch t.Tag {
		case TagEnum:
			return intType, true
		case TagStruct, TagUnion:
			return ityp{}, false
		}
		if b, ok := basics[t.Name]; ok {
			if b.Go == "" {
				return ityp{}, false
			}
			size := b.Size
			if size == 0 {
				size = ptrSize
			}
			return ityp{bits: size * 8, unsigned: b.Unsigned, float: b.Float}, true
		}
		var next CType
		ok := false
		if lookup != nil {
			next, ok = lookup(t.Name)
		}
		if !ok {
			next, ok = platform[t.Name]
		}
		if !ok {
			return ityp{}, false
		}
		t = next
	}
	return ityp{}, false
}

// cUnquote decodes the body of a C string or character literal.
func cUnquote(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", strconv.ErrSyntax
		}
		switch c = s[i]; c {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '\\', '\'', '"', '?':
			b.WriteByte(c)
		case 'x':
			j := i + 1
			for j < len(s) && strings.IndexByte("0123456789abcdefABCDEF", s[j]) >= 0 {
				j++
			}
			n, err := strconv.ParseUint(s[i+1:j], 16, 8)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(n))
			i = j - 1
		default:
			if c < '0' || c > '7' {
				return "", strconv.ErrSyntax
			}
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			n, err := strconv.ParseUint(s[i:j], 8, 8)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(n))
			i = j - 1
		}
	}
	return b.String(), nil
}
