package compiler

import (
	"errors"
	"fmt"

	"github.com/ollang/ollang/pkg/ast"
)

// Sentinel causes carried by *Error.
var (
	ErrUnsupportedNode = errors.New("unsupported node")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrNoLoop          = errors.New("not inside a loop")
	ErrUndeclared      = errors.New("undeclared variable")
	ErrConstAssignment = errors.New("assignment to constant")
)

// Error is a compilation failure at a source position.
type Error struct {
	Message string
	Line    int
	Column  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil && msg == "" {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d:%d: %s", e.Line, e.Column, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// errorAt builds an *Error located at node.
func errorAt(node ast.Node, cause error, format string, args ...any) *Error {
	e := &Error{Message: fmt.Sprintf(format, args...), Err: cause}
	if node != nil {
		pos := node.Pos()
		e.Line, e.Column = pos.Line, pos.Column
	}
	return e
}
