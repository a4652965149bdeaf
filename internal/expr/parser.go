package expr

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/aristath/quantlab/internal/apperr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokSymbol
	tokNumber
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

// lex tokenizes raw, rejecting any character that isn't whitespace, a
// symbol constituent ([A-Za-z0-9_.:]), an operator, or a parenthesis.
func lex(raw string) ([]token, error) {
	l := &lexer{src: raw}
	for l.pos < len(l.src) {
		c := rune(l.src[l.pos])
		switch {
		case unicode.IsSpace(c):
			l.pos++
		case c == '+':
			l.toks = append(l.toks, token{tokPlus, "+"})
			l.pos++
		case c == '-':
			l.toks = append(l.toks, token{tokMinus, "-"})
			l.pos++
		case c == '*':
			l.toks = append(l.toks, token{tokStar, "*"})
			l.pos++
		case c == '/':
			l.toks = append(l.toks, token{tokSlash, "/"})
			l.pos++
		case c == '(':
			l.toks = append(l.toks, token{tokLParen, "("})
			l.pos++
		case c == ')':
			l.toks = append(l.toks, token{tokRParen, ")"})
			l.pos++
		case unicode.IsDigit(c):
			start := l.pos
			for l.pos < len(l.src) && (unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '.') {
				l.pos++
			}
			l.toks = append(l.toks, token{tokNumber, l.src[start:l.pos]})
		case isSymbolStart(c):
			start := l.pos
			for l.pos < len(l.src) && isSymbolRune(rune(l.src[l.pos])) {
				l.pos++
			}
			l.toks = append(l.toks, token{tokSymbol, l.src[start:l.pos]})
		default:
			return nil, apperr.Newf(apperr.KindParseError, "unexpected character %q at position %d", c, l.pos)
		}
	}
	l.toks = append(l.toks, token{tokEOF, ""})
	return l.toks, nil
}

func isSymbolStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

func isSymbolRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' || c == ':'
}

type parser struct {
	toks []token
	pos  int
}

// Parse builds the AST for a single expression string.
func Parse(raw string) (*Node, error) {
	toks, err := lex(raw)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, apperr.Newf(apperr.KindParseError, "unexpected trailing input %q in expression %q", p.cur().text, raw)
	}
	return node, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// parseExpr := term (('+'|'-') term)*
func (p *parser) parseExpr() (*Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokPlus, tokMinus:
			op := p.advance()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = &Node{Kind: NodeBinary, Op: Op(op.text[0]), Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

// parseTerm := factor (('*'|'/') factor)*
func (p *parser) parseTerm() (*Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokStar, tokSlash:
			op := p.advance()
			right, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			left = &Node{Kind: NodeBinary, Op: Op(op.text[0]), Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

// parseFactor := SYMBOL | NUMBER | '(' expr ')'
func (p *parser) parseFactor() (*Node, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, apperr.Newf(apperr.KindParseError, "malformed number literal %q", t.text)
		}
		return &Node{Kind: NodeNumber, Number: v}, nil
	case tokSymbol:
		p.advance()
		return &Node{Kind: NodeSymbol, Symbol: strings.ToUpper(t.text)}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, apperr.New(apperr.KindParseError, "expected ')' to close expression")
		}
		p.advance()
		return inner, nil
	default:
		return nil, apperr.Newf(apperr.KindParseError, "expected a symbol, number, or '(' but found %q", t.text)
	}
}
