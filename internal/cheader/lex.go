package cheader

import (
	"errors"
	"fmt"
	"strings"
	"text/scanner"
)

// ErrHeaderParse is returned for any header the parser cannot accept.
var ErrHeaderParse = errors.New("header parse error")

// tokKind classifies a token.
type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokInt
	tokFloat
	tokChar
	tokString
	tokPunct
)

type token struct {
	kind tokKind
	text string
	pos  Pos
}

func (t token) is(text string) bool {
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == text
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of file"
	}
	return fmt.Sprintf("%q", t.text)
}

// errorf builds an ErrHeaderParse error positioned at pos.
func errorf(file string, pos Pos, format string, args ...any) error {
	return fmt.Errorf("%w: %s:%s: %s", ErrHeaderParse, file, pos, fmt.Sprintf(format, args...))
}

// line is one logical source line after splicing continuations.
type line struct {
	text string
	// pos maps each byte of text back to its physical position.
	pos []Pos
}

// logicalLines strips comments and joins backslash continuations.
// Comments become a single space so tokens on both sides stay apart.
func logicalLines(file, src string) ([]line, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")

	var (
		lines []line
		cur   line
		ln    = 1
		col   = 1
	)
	var buf []byte
	emit := func(c byte, p Pos) {
		buf = append(buf, c)
		cur.pos = append(cur.pos, p)
	}
	flush := func() {
		cur.text = string(buf)
		lines = append(lines, cur)
		cur, buf = line{}, buf[:0]
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		p := Pos{ln, col}
		switch {
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			i++
			ln++
			col = 1
			continue
		case c == '\n':
			flush()
			ln++
			col = 1
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i+1 < len(src) && src[i+1] != '\n' {
				// a spliced line comment continues on the next line
				if src[i+1] == '\\' && i+2 < len(src) && src[i+2] == '\n' {
					i += 2
					ln++
					col = 1
					continue
				}
				i++
			}
			emit(' ', p)
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, errorf(file, p, "unterminated comment")
			}
			body := src[i : i+2+end+2]
			if n := strings.Count(body, "\n"); n > 0 {
				ln += n
				col = len(body) - strings.LastIndexByte(body, '\n')
			} else {
				col += len(body)
			}
			i += len(body) - 1
			emit(' ', p)
			continue
		case c == '"' || c == '\'':
			j := i + 1
			for ; j < len(src) && src[j] != c && src[j] != '\n'; j++ {
				if src[j] == '\\' {
					j++
				}
			}
			if j >= len(src) || src[j] != c {
				// left for the tokenizer to reject if the line is compiled
				emit(c, p)
				col++
				continue
			}
			for k := i; k <= j; k++ {
				emit(src[k], Pos{ln, col})
				col++
			}
			i = j
			continue
		}
		emit(c, p)
		col++
	}
	if len(buf) > 0 {
		flush()
	}
	return lines, nil
}

var punct3 = []string{"...", "<<=", ">>="}

var punct2 = []string{
	"<<", ">>", "<=", ">=", "==", "!=", "&&", "||", "->", "::",
	"++", "--", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "##",
}

func isSuffix(s string) bool {
	switch strings.ToLower(s) {
	case "u", "l", "ul", "lu", "ll", "ull", "llu", "i8", "i16", "i32", "i64",
		"ui8", "ui16", "ui32", "ui64", "f":
		return true
	}
	return false
}

// tokenize splits text (one logical line, or part of one) into tokens.
// pos maps byte offsets of text back to source positions.
func tokenize(file, text string, pos []Pos) ([]token, error) {
	var (
		s    scanner.Scanner
		toks []token
		serr error
	)
	at := func(off int) Pos {
		if off < len(pos) {
			return pos[off]
		}
		if len(pos) > 0 {
			return pos[len(pos)-1]
		}
		return Pos{1, 1}
	}
	s.Init(strings.NewReader(text))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanChars | scanner.ScanStrings
	s.Error = func(s *scanner.Scanner, msg string) {
		// C escapes such as \0 and multi-character constants are
		// checked when the literal is evaluated
		if msg == "invalid char escape" || msg == "invalid char literal" {
			return
		}
		if serr == nil {
			serr = errorf(file, at(s.Pos().Offset), "%s", msg)
		}
	}

	prevEnd := -1
	for r := s.Scan(); r != scanner.EOF; r = s.Scan() {
		off := s.Position.Offset
		txt := s.TokenText()
		tk := token{text: txt, pos: at(off)}
		switch r {
		case scanner.Ident:
			tk.kind = tokIdent
			// wide and prefixed literals: L"..." and L'x'
			if (txt == "L" || txt == "u" || txt == "U" || txt == "u8") && (s.Peek() == '"' || s.Peek() == '\'') {
				continue
			}
		case scanner.Int:
			tk.kind = tokInt
		case scanner.Float:
			tk.kind = tokFloat
		case scanner.Char:
			tk.kind = tokChar
		case scanner.String:
			tk.kind = tokString
		default:
			tk.kind = tokPunct
		}

		if n := len(toks); n > 0 && off == prevEnd {
			last := &toks[n-1]
			switch {
			case (last.kind == tokInt || last.kind == tokFloat) && tk.kind == tokIdent && isSuffix(txt):
				last.text += txt
				prevEnd = off + len(txt)
				continue
			case last.kind == tokPunct && tk.kind == tokPunct && mergesPunct(last.text+txt):
				last.text += txt
				prevEnd = off + len(txt)
				continue
			}
		}
		toks = append(toks, tk)
		prevEnd = off + len(txt)
	}
	if serr != nil {
		return nil, serr
	}
	return toks, nil
}

func mergesPunct(s string) bool {
	for _, p := range punct3 {
		if p == s {
			return true
		}
	}
	for _, p := range punct2 {
		if p == s {
			return true
		}
	}
	// ".." is a prefix of "..."
	return s == ".."
}
