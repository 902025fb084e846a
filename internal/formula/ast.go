package formula

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/vitebski/calc-columns/pkg/models"
)

// NodePosition is the rune span of a node in the formula text
type NodePosition struct {
	Start int
	End   int
}

// Node is an element of a parsed formula. Nodes are evaluated by walking
// the tree against a single row; there is no other way to execute them.
type Node interface {
	Eval(row models.Row) (float64, error)
	Position() NodePosition
	String() string
}

// BinaryOp is an arithmetic operator of a BinaryOpNode
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
)

func (op BinaryOp) String() string {
	switch op {
	case BinOpAdd:
		return "+"
	case BinOpSubtract:
		return "-"
	case BinOpMultiply:
		return "*"
	case BinOpDivide:
		return "/"
	}
	return "?"
}

// UnaryOp is the sign operator of a UnaryOpNode
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
)

// NumberNode is a numeric literal
type NumberNode struct {
	Value float64
	Pos   NodePosition
}

func (n *NumberNode) Eval(models.Row) (float64, error) {
	return n.Value, nil
}

func (n *NumberNode) Position() NodePosition {
	return n.Pos
}

func (n *NumberNode) String() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// ColumnRefNode references a column of the row being evaluated
type ColumnRefNode struct {
	Name string
	Pos  NodePosition
}

// Eval binds the column from the row. A missing column and a value that is
// not numeric are both errors, reported before any operator sees them.
func (n *ColumnRefNode) Eval(row models.Row) (float64, error) {
	value, ok := row[n.Name]
	if !ok {
		return 0, &UndefinedSymbolError{Name: n.Name}
	}
	num, ok := ToNumber(value)
	if !ok {
		return 0, ErrInvalidResult
	}
	return num, nil
}

func (n *ColumnRefNode) Position() NodePosition {
	return n.Pos
}

func (n *ColumnRefNode) String() string {
	if isBareIdentifier(n.Name) {
		return n.Name
	}
	return "[" + n.Name + "]"
}

// BinaryOpNode applies an arithmetic operator to two operands
type BinaryOpNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
	Pos   NodePosition
}

func (n *BinaryOpNode) Eval(row models.Row) (float64, error) {
	left, err := n.Left.Eval(row)
	if err != nil {
		return 0, err
	}
	right, err := n.Right.Eval(row)
	if err != nil {
		return 0, err
	}

	switch n.Op {
	case BinOpAdd:
		return left + right, nil
	case BinOpSubtract:
		return left - right, nil
	case BinOpMultiply:
		return left * right, nil
	case BinOpDivide:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return left / right, nil
	}
	return 0, fmt.Errorf("unknown operator %d", n.Op)
}

func (n *BinaryOpNode) Position() NodePosition {
	return n.Pos
}

func (n *BinaryOpNode) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left.String(), n.Op.String(), n.Right.String())
}

// UnaryOpNode applies a sign to its operand
type UnaryOpNode struct {
	Op      UnaryOp
	Operand Node
	Pos     NodePosition
}

func (n *UnaryOpNode) Eval(row models.Row) (float64, error) {
	v, err := n.Operand.Eval(row)
	if err != nil {
		return 0, err
	}
	if n.Op == UnaryOpMinus {
		return -v, nil
	}
	return v, nil
}

func (n *UnaryOpNode) Position() NodePosition {
	return n.Pos
}

func (n *UnaryOpNode) String() string {
	if n.Op == UnaryOpMinus {
		return "(-" + n.Operand.String() + ")"
	}
	return n.Operand.String()
}

// Walk visits n and all of its descendants depth-first, left to right
func Walk(n Node, visit func(Node)) {
	if n == nil {
		return
	}
	visit(n)
	switch node := n.(type) {
	case *BinaryOpNode:
		Walk(node.Left, visit)
		Walk(node.Right, visit)
	case *UnaryOpNode:
		Walk(node.Operand, visit)
	}
}

func isBareIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == charUnderscore || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
