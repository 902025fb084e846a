package formula

import (
	"fmt"
	"unicode"
)

// TokenType represents the kinds of tokens a formula can contain
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenIdentifier
	TokenColumnRef
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenLeftParen
	TokenRightParen
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of formula"
	case TokenNumber:
		return "number"
	case TokenIdentifier, TokenColumnRef:
		return "column reference"
	case TokenPlus, TokenMinus, TokenStar, TokenSlash:
		return "operator"
	case TokenLeftParen:
		return "opening parenthesis"
	case TokenRightParen:
		return "closing parenthesis"
	default:
		return "token"
	}
}

// character classification constants
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charLParen     = '('
	charRParen     = ')'
	charLBracket   = '['
	charRBracket   = ']'
	charAsterisk   = '*'
	charPlus       = '+'
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charUnderscore = '_'
)

// Token is a lexical token with its rune offset in the formula
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer tokenizes arithmetic formulas. Only numbers, column references,
// the four arithmetic operators and parentheses are recognised; any other
// character is a syntax error.
type Lexer struct {
	runes      []rune
	pos        int
	parenDepth int
	tokens     []Token
}

// NewLexer creates a lexer for the given formula text
func NewLexer(input string) *Lexer {
	return &Lexer{runes: []rune(input)}
}

// Tokenize returns the token stream terminated by a TokenEOF token
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			break
		}

		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
	}

	if l.parenDepth > 0 {
		return nil, &ParseError{Pos: l.pos, Msg: "unbalanced parentheses: missing closing parenthesis"}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos})
	return l.tokens, nil
}

func (l *Lexer) nextToken() (Token, error) {
	startPos := l.pos
	ch := l.current()

	if l.isDigit(ch) || (ch == charPeriod && l.isDigit(l.peek(1))) {
		return l.scanNumber(), nil
	}

	if l.isIdentStart(ch) {
		return l.scanIdentifier(), nil
	}

	switch ch {
	case charLBracket:
		return l.scanBracketed()
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}, nil
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{}, &ParseError{Pos: startPos, Msg: "unbalanced parentheses: unexpected closing parenthesis"}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}, nil
	case charPlus:
		l.pos++
		return Token{Type: TokenPlus, Value: "+", Pos: startPos}, nil
	case charMinus:
		l.pos++
		return Token{Type: TokenMinus, Value: "-", Pos: startPos}, nil
	case charAsterisk:
		l.pos++
		return Token{Type: TokenStar, Value: "*", Pos: startPos}, nil
	case charSlash:
		l.pos++
		return Token{Type: TokenSlash, Value: "/", Pos: startPos}, nil
	}

	return Token{}, &ParseError{Pos: startPos, Msg: fmt.Sprintf("unexpected character '%c'", ch)}
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
		} else {
			break
		}
	}
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isIdentStart(ch rune) bool {
	return ch == charUnderscore || unicode.IsLetter(ch)
}

func (l *Lexer) isIdentPart(ch rune) bool {
	return l.isIdentStart(ch) || unicode.IsDigit(ch)
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for l.isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && l.isDigit(l.peek(1)) {
		l.pos++
		for l.isDigit(l.current()) {
			l.pos++
		}
	}

	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !l.isDigit(l.current()) {
			// not an exponent; the 'e' starts whatever comes next
			l.pos = savedPos
		} else {
			for l.isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: string(l.runes[startPos:l.pos]), Pos: startPos}
}

func (l *Lexer) scanIdentifier() Token {
	startPos := l.pos
	for l.pos < len(l.runes) && l.isIdentPart(l.current()) {
		l.pos++
	}
	return Token{Type: TokenIdentifier, Value: string(l.runes[startPos:l.pos]), Pos: startPos}
}

// scanBracketed scans a [Column Name] reference. The brackets are dropped
// and the surrounding whitespace of the name is trimmed.
func (l *Lexer) scanBracketed() (Token, error) {
	startPos := l.pos
	l.pos++ // consume '['

	nameStart := l.pos
	for l.pos < len(l.runes) && l.current() != charRBracket {
		if l.current() == charLBracket {
			return Token{}, &ParseError{Pos: l.pos, Msg: "nested '[' in column reference"}
		}
		l.pos++
	}
	if l.pos >= len(l.runes) {
		return Token{}, &ParseError{Pos: startPos, Msg: "unterminated column reference: missing ']'"}
	}

	name := trimSpace(l.runes[nameStart:l.pos])
	l.pos++ // consume ']'

	if name == "" {
		return Token{}, &ParseError{Pos: startPos, Msg: "empty column reference"}
	}
	return Token{Type: TokenColumnRef, Value: name, Pos: startPos}, nil
}

func trimSpace(rs []rune) string {
	start, end := 0, len(rs)
	for start < end && unicode.IsSpace(rs[start]) {
		start++
	}
	for end > start && unicode.IsSpace(rs[end-1]) {
		end--
	}
	return string(rs[start:end])
}
