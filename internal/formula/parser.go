// Package formula parses and evaluates the arithmetic formulas that define
// calculated columns.
package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFormulaLength bounds the formula text in runes
	MaxFormulaLength = 4096

	// MaxNestingDepth bounds nested parentheses and sign prefixes
	MaxNestingDepth = 64
)

// ParsedFormula is the result of parsing a formula: the original text, the
// expression tree and the distinct column names it references in order of
// first appearance.
type ParsedFormula struct {
	Expression string
	Variables  []string
	Root       Node
}

// String renders the formula in canonical, fully parenthesised form
func (pf *ParsedFormula) String() string {
	if pf == nil || pf.Root == nil {
		return ""
	}
	return pf.Root.String()
}

// Parse parses a formula into an expression tree.
//
// Grammar:
//
//	expression := term (('+' | '-') term)*
//	term       := unary (('*' | '/') unary)*
//	unary      := ('+' | '-') unary | primary
//	primary    := NUMBER | IDENT | '[' name ']' | '(' expression ')'
func Parse(formula string) (*ParsedFormula, error) {
	if strings.TrimSpace(formula) == "" {
		return nil, &ParseError{Pos: -1, Msg: "formula cannot be empty"}
	}
	if n := utf8.RuneCountInString(formula); n > MaxFormulaLength {
		return nil, &ParseError{Pos: -1, Msg: fmt.Sprintf("formula is too long (%d characters, maximum %d)", n, MaxFormulaLength)}
	}

	tokens, err := NewLexer(formula).Tokenize()
	if err != nil {
		return nil, err
	}

	p := NewParser(tokens)
	root, err := p.Parse()
	if err != nil {
		return nil, err
	}

	return &ParsedFormula{
		Expression: formula,
		Variables:  collectVariables(root),
		Root:       root,
	}, nil
}

// Parser builds an expression tree from a token stream
type Parser struct {
	tokens []Token
	pos    int
	depth  int
}

// NewParser creates a parser over tokens produced by a Lexer
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses the whole token stream as a single expression
func (p *Parser) Parse() (Node, error) {
	if len(p.tokens) == 0 || p.peek().Type == TokenEOF {
		return nil, &ParseError{Pos: -1, Msg: "formula cannot be empty"}
	}

	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected %s '%s'", tok.Type, tok.Value)}
	}
	return node, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) enter(tok Token) error {
	p.depth++
	if p.depth > MaxNestingDepth {
		return &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("formula is nested too deeply (maximum %d levels)", MaxNestingDepth)}
	}
	return nil
}

func (p *Parser) leave() {
	p.depth--
}

func (p *Parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// parseExpression handles addition and subtraction (lowest precedence)
func (p *Parser) parseExpression() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		var op BinaryOp
		switch p.peek().Type {
		case TokenPlus:
			op = BinOpAdd
		case TokenMinus:
			op = BinOpSubtract
		default:
			return left, nil
		}
		p.next()

		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{
			Op:    op,
			Left:  left,
			Right: right,
			Pos:   NodePosition{Start: left.Position().Start, End: right.Position().End},
		}
	}
}

// parseTerm handles multiplication and division
func (p *Parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		var op BinaryOp
		switch p.peek().Type {
		case TokenStar:
			op = BinOpMultiply
		case TokenSlash:
			op = BinOpDivide
		default:
			return left, nil
		}
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{
			Op:    op,
			Left:  left,
			Right: right,
			Pos:   NodePosition{Start: left.Position().Start, End: right.Position().End},
		}
	}
}

// parseUnary handles sign prefixes
func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type != TokenPlus && tok.Type != TokenMinus {
		return p.parsePrimary()
	}
	p.next()

	if err := p.enter(tok); err != nil {
		return nil, err
	}
	operand, err := p.parseUnary()
	p.leave()
	if err != nil {
		return nil, err
	}

	op := UnaryOpPlus
	if tok.Type == TokenMinus {
		op = UnaryOpMinus
	}
	return &UnaryOpNode{
		Op:      op,
		Operand: operand,
		Pos:     NodePosition{Start: tok.Pos, End: operand.Position().End},
	}, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.next()

	switch tok.Type {
	case TokenNumber:
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("invalid number '%s'", tok.Value)}
		}
		return &NumberNode{
			Value: val,
			Pos:   NodePosition{Start: tok.Pos, End: tok.Pos + len([]rune(tok.Value))},
		}, nil

	case TokenIdentifier:
		if p.peek().Type == TokenLeftParen {
			return nil, &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("function calls are not supported: '%s'", tok.Value)}
		}
		return &ColumnRefNode{
			Name: tok.Value,
			Pos:  NodePosition{Start: tok.Pos, End: tok.Pos + len([]rune(tok.Value))},
		}, nil

	case TokenColumnRef:
		return &ColumnRefNode{
			Name: tok.Value,
			Pos:  NodePosition{Start: tok.Pos, End: tok.Pos + len([]rune(tok.Value)) + 2},
		}, nil

	case TokenLeftParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		inner, err := p.parseExpression()
		p.leave()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.Type != TokenRightParen {
			return nil, &ParseError{Pos: closing.Pos, Msg: "expected ')'"}
		}
		return inner, nil

	case TokenEOF:
		return nil, &ParseError{Pos: tok.Pos, Msg: "unexpected end of formula"}
	}

	return nil, &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected %s '%s'", tok.Type, tok.Value)}
}

// collectVariables returns the distinct column names referenced by the tree
func collectVariables(root Node) []string {
	seen := make(map[string]bool)
	variables := []string{}
	Walk(root, func(n Node) {
		ref, ok := n.(*ColumnRefNode)
		if !ok || seen[ref.Name] {
			return
		}
		seen[ref.Name] = true
		variables = append(variables, ref.Name)
	})
	return variables
}
