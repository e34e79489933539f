package cheader

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

type macro struct {
	name   string
	fn     bool
	params []string
	body   []token
	pos    Pos
	// predefined macros come from options, not from the header
	predefined bool
}

type cond struct {
	active  bool // current branch is being compiled
	taken   bool // some branch of this group was already compiled
	outer   bool // the enclosing group is active
	sawElse bool
}

// packMark records the #pragma pack value in effect from a line on.
type packMark struct {
	line int
	pack int
}

type packFrame struct {
	label string
	pack  int
}

type preprocessor struct {
	file    string
	defines map[string]*macro
	order   []string
	conds   []cond
	code    []token

	pack      int
	packStack []packFrame
	packs     []packMark
}

func newPreprocessor(file string, predefined map[string]string) (*preprocessor, error) {
	pp := &preprocessor{file: file, defines: map[string]*macro{}}
	for name, val := range predefined {
		body, err := tokenize(file, val, nil)
		if err != nil {
			return nil, err
		}
		pp.defines[name] = &macro{name: name, body: body, predefined: true}
	}
	return pp, nil
}

func (pp *preprocessor) active() bool {
	if n := len(pp.conds); n > 0 {
		return pp.conds[n-1].active
	}
	return true
}

// run feeds every logical line through the directive handler and
// collects the tokens of compiled code lines.
func (pp *preprocessor) run(lines []line) error {
	for _, ln := range lines {
		trimmed := strings.TrimLeft(ln.text, " \t\f\v")
		if !strings.HasPrefix(trimmed, "#") {
			if !pp.active() {
				continue
			}
			toks, err := tokenize(pp.file, ln.text, ln.pos)
			if err != nil {
				return err
			}
			pp.code = append(pp.code, toks...)
			continue
		}
		off := len(ln.text) - len(trimmed) + 1
		if err := pp.directive(ln.text[off:], ln.pos[off:], ln.pos[off-1]); err != nil {
			return err
		}
	}
	if n := len(pp.conds); n > 0 {
		return errorf(pp.file, Pos{}, "unterminated conditional directive")
	}
	return nil
}

func (pp *preprocessor) directive(text string, pos []Pos, at Pos) error {
	toks, err := tokenize(pp.file, text, pos)
	if err != nil {
		// #error and #pragma carry free text that need not tokenize
		if !pp.active() {
			return nil
		}
		name := strings.Fields(text)
		if len(name) > 0 {
			switch name[0] {
			case "pragma":
				return pp.pragma(text, at)
			case "include":
				return pp.include(text, at)
			case "warning", "line":
				return nil
			}
		}
		return err
	}
	if len(toks) == 0 {
		return nil
	}
	name, args := toks[0].text, toks[1:]
	switch name {
	case "if", "ifdef", "ifndef":
		c := cond{outer: pp.active()}
		if c.outer {
			ok, err := pp.test(name, args, at)
			if err != nil {
				return err
			}
			c.active, c.taken = ok, ok
		}
		pp.conds = append(pp.conds, c)
		return nil
	case "elif", "elifdef", "elifndef", "else":
		n := len(pp.conds)
		if n == 0 {
			return errorf(pp.file, at, "#%s without #if", name)
		}
		c := &pp.conds[n-1]
		if c.sawElse {
			return errorf(pp.file, at, "#%s after #else", name)
		}
		if name == "else" {
			c.sawElse = true
			c.active = c.outer && !c.taken
			c.taken = c.taken || c.active
			return nil
		}
		c.active = false
		if c.outer && !c.taken {
			ok, err := pp.test(strings.Replace(name, "elif", "if", 1), args, at)
			if err != nil {
				return err
			}
			c.active, c.taken = ok, ok
		}
		return nil
	case "endif":
		n := len(pp.conds)
		if n == 0 {
			return errorf(pp.file, at, "#endif without #if")
		}
		pp.conds = pp.conds[:n-1]
		return nil
	}

	if !pp.active() {
		return nil
	}
	switch name {
	case "define":
		return pp.define(text, args, at)
	case "undef":
		if len(args) == 0 || args[0].kind != tokIdent {
			return errorf(pp.file, at, "#undef needs a name")
		}
		delete(pp.defines, args[0].text)
		return nil
	case "error":
		return errorf(pp.file, at, "#error %s", strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "error")))
	case "pragma":
		return pp.pragma(text, at)
	case "include":
		return pp.include(text, at)
	case "include_next", "import", "warning", "line", "ident":
		return nil
	}
	return errorf(pp.file, at, "unknown directive #%s", name)
}

// include follows the SDK pack headers; other includes are not read.
func (pp *preprocessor) include(text string, at Pos) error {
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "include"))
	base := strings.ToLower(path.Base(strings.ReplaceAll(strings.Trim(arg, `<>"`), `\`, "/")))
	switch {
	case base == "poppack.h":
		return pp.packPop("", 0, at)
	case strings.HasPrefix(base, "pshpack") && strings.HasSuffix(base, ".h"):
		n, err := packValue(strings.TrimSuffix(strings.TrimPrefix(base, "pshpack"), ".h"))
		if err != nil {
			return errorf(pp.file, at, "#include <%s>: %v", base, err)
		}
		pp.packStack = append(pp.packStack, packFrame{pack: pp.pack})
		pp.setPack(n, at)
	}
	return nil
}

// pragma applies #pragma pack in all its MSVC forms. Other pragmas are
// ignored.
func (pp *preprocessor) pragma(text string, at Pos) error {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "pragma"))
	rest, ok := strings.CutPrefix(body, "pack")
	if !ok {
		return nil
	}
	rest = strings.TrimSpace(rest)
	if rest != "" && isIdentChar(rest[0]) {
		// some other pragma
		return nil
	}
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return errorf(pp.file, at, "malformed #pragma pack")
	}
	var args []string
	if inner := strings.TrimSpace(rest[1 : len(rest)-1]); inner != "" {
		for _, a := range strings.Split(inner, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	if len(args) == 0 {
		pp.setPack(0, at)
		return nil
	}
	switch args[0] {
	case "show":
		return nil
	case "push", "pop":
		var (
			label string
			n     int
		)
		for _, a := range args[1:] {
			if a != "" && a[0] >= '0' && a[0] <= '9' {
				v, err := packValue(a)
				if err != nil {
					return errorf(pp.file, at, "#pragma pack: %v", err)
				}
				n = v
				continue
			}
			if a == "" || label != "" || n != 0 {
				return errorf(pp.file, at, "malformed #pragma pack(%s)", strings.Join(args, ","))
			}
			label = a
		}
		if args[0] == "pop" {
			return pp.packPop(label, n, at)
		}
		pp.packStack = append(pp.packStack, packFrame{label: label, pack: pp.pack})
		if n != 0 {
			pp.setPack(n, at)
		}
		return nil
	}
	if len(args) > 1 {
		return errorf(pp.file, at, "malformed #pragma pack(%s)", strings.Join(args, ","))
	}
	n, err := packValue(args[0])
	if err != nil {
		return errorf(pp.file, at, "#pragma pack: %v", err)
	}
	pp.setPack(n, at)
	return nil
}

// packPop pops to the frame labelled label, or the top frame, and then
// applies n when it is set.
func (pp *preprocessor) packPop(label string, n int, at Pos) error {
	i := len(pp.packStack) - 1
	if label != "" {
		for i >= 0 && pp.packStack[i].label != label {
			i--
		}
	}
	if i < 0 {
		return errorf(pp.file, at, "#pragma pack(pop) without a matching push")
	}
	pack := pp.packStack[i].pack
	pp.packStack = pp.packStack[:i]
	if n != 0 {
		pack = n
	}
	pp.setPack(pack, at)
	return nil
}

func (pp *preprocessor) setPack(n int, at Pos) {
	pp.pack = n
	pp.packs = append(pp.packs, packMark{line: at.Line, pack: n})
}

// packAt returns the pack value in effect at pos.
func (pp *preprocessor) packAt(pos Pos) int {
	for i := len(pp.packs) - 1; i >= 0; i-- {
		if pp.packs[i].line < pos.Line {
			return pp.packs[i].pack
		}
	}
	return 0
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func packValue(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("pack value %q is not a number", s)
	}
	switch n {
	case 1, 2, 4, 8, 16:
		return n, nil
	}
	return 0, fmt.Errorf("invalid pack value %d", n)
}

func (pp *preprocessor) define(text string, args []token, at Pos) error {
	if len(args) == 0 || args[0].kind != tokIdent {
		return errorf(pp.file, at, "#define needs a name")
	}
	m := &macro{name: args[0].text, pos: args[0].pos}
	rest := args[1:]
	// function-like only when '(' touches the name
	if len(rest) > 0 && rest[0].is("(") && rest[0].pos.Col == m.pos.Col+len(m.name) && rest[0].pos.Line == m.pos.Line {
		m.fn = true
		i := 1
		for ; i < len(rest) && !rest[i].is(")"); i++ {
			switch {
			case rest[i].is(","):
			case rest[i].kind == tokIdent, rest[i].is("..."):
				m.params = append(m.params, rest[i].text)
			default:
				return errorf(pp.file, rest[i].pos, "bad macro parameter %s", rest[i])
			}
		}
		if i == len(rest) {
			return errorf(pp.file, at, "unterminated macro parameter list")
		}
		rest = rest[i+1:]
	}
	m.body = rest
	if _, seen := pp.defines[m.name]; !seen || pp.defines[m.name].predefined {
		pp.order = append(pp.order, m.name)
	}
	pp.defines[m.name] = m
	return nil
}

// test evaluates the condition of #if, #ifdef or #ifndef.
func (pp *preprocessor) test(kind string, args []token, at Pos) (bool, error) {
	switch kind {
	case "ifdef", "ifndef":
		if len(args) == 0 || args[0].kind != tokIdent {
			return false, errorf(pp.file, at, "#%s needs a name", kind)
		}
		_, ok := pp.defines[args[0].text]
		return ok == (kind == "ifdef"), nil
	}
	if len(args) == 0 {
		return false, errorf(pp.file, at, "#if with no expression")
	}
	// resolve defined() before expansion so the operand is not expanded
	var toks []token
	for i := 0; i < len(args); i++ {
		if !args[i].is("defined") {
			toks = append(toks, args[i])
			continue
		}
		j := i + 1
		paren := j < len(args) && args[j].is("(")
		if paren {
			j++
		}
		if j >= len(args) || args[j].kind != tokIdent {
			return false, errorf(pp.file, args[i].pos, "defined needs a name")
		}
		_, ok := pp.defines[args[j].text]
		if paren {
			j++
			if j >= len(args) || !args[j].is(")") {
				return false, errorf(pp.file, args[i].pos, "missing ) after defined")
			}
		}
		v := "0"
		if ok {
			v = "1"
		}
		toks = append(toks, token{kind: tokInt, text: v, pos: args[i].pos})
		i = j
	}
	toks, err := pp.expand(toks, map[string]bool{})
	if err != nil {
		return false, err
	}
	v, err := evalTokens(pp.file, toks, nil, true)
	if err != nil {
		return false, err
	}
	return !v.isZero(), nil
}

// expand replaces macro invocations in toks with their expansion.
// disabled holds the macros being expanded, which are not expanded again.
func (pp *preprocessor) expand(toks []token, disabled map[string]bool) ([]token, error) {
	var out []token
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		m := pp.defines[t.text]
		if t.kind != tokIdent || m == nil || disabled[t.text] {
			out = append(out, t)
			continue
		}
		body := m.body
		if m.fn {
			if i+1 >= len(toks) || !toks[i+1].is("(") {
				out = append(out, t)
				continue
			}
			args, n, err := pp.collectArgs(toks[i+1:], t.pos)
			if err != nil {
				return nil, err
			}
			i += n
			if body, err = pp.substitute(m, args, t.pos); err != nil {
				return nil, err
			}
		}
		sub := make([]token, len(body))
		for j, b := range body {
			b.pos = t.pos
			sub[j] = b
		}
		disabled[m.name] = true
		exp, err := pp.expand(sub, disabled)
		delete(disabled, m.name)
		if err != nil {
			return nil, err
		}
		out = append(out, exp...)
	}
	return out, nil
}

// collectArgs reads a parenthesized argument list starting at toks[0]
// and returns the arguments and the number of tokens consumed.
func (pp *preprocessor) collectArgs(toks []token, at Pos) ([][]token, int, error) {
	var (
		args  [][]token
		cur   []token
		depth int
	)
	for i := 1; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is("("):
			depth++
		case t.is(")"):
			if depth == 0 {
				if len(cur) > 0 || len(args) > 0 {
					args = append(args, cur)
				}
				return args, i + 1, nil
			}
			depth--
		case t.is(",") && depth == 0:
			args = append(args, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return nil, 0, errorf(pp.file, at, "unterminated macro arguments")
}

func (pp *preprocessor) substitute(m *macro, args [][]token, at Pos) ([]token, error) {
	variadic := len(m.params) > 0 && m.params[len(m.params)-1] == "..."
	if len(args) != len(m.params) && !(variadic && len(args) >= len(m.params)-1) {
		return nil, errorf(pp.file, at, "macro %s takes %d arguments, got %d", m.name, len(m.params), len(args))
	}
	var out []token
	for _, b := range m.body {
		if b.is("#") || b.is("##") {
			return nil, errorf(pp.file, at, "macro %s uses token pasting, which is not supported", m.name)
		}
		if b.kind != tokIdent {
			out = append(out, b)
			continue
		}
		idx := -1
		for k, p := range m.params {
			if p == b.text || (p == "..." && b.text == "__VA_ARGS__") {
				idx = k
			}
		}
		switch {
		case idx < 0:
			out = append(out, b)
		case m.params[idx] == "...":
			for k := idx; k < len(args); k++ {
				if k > idx {
					out = append(out, token{kind: tokPunct, text: ","})
				}
				out = append(out, args[k]...)
			}
		case idx < len(args):
			out = append(out, args[idx]...)
		}
	}
	return out, nil
}
