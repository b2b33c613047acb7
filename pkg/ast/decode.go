package ast

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// rawNode is the union of every field a JSON node may carry. Child nodes stay
// raw until the discriminator says how to read them.
type rawNode struct {
	Type   string `json:"type"`
	Line   int    `json:"line"`
	Column int    `json:"column"`

	Value json.RawMessage `json:"value"`

	Name       string   `json:"name"`
	Op         string   `json:"op"`
	Path       string   `json:"path"`
	Alias      string   `json:"alias"`
	Parent     string   `json:"parent"`
	Iterator   string   `json:"iterator"`
	CatchVar   string   `json:"catchVar"`
	ReturnType string   `json:"returnType"`
	Params     []string `json:"params"`
	Attributes []string `json:"attributes"`
	IsStatic   bool     `json:"isStatic"`
	Const      bool     `json:"const"`

	Left       json.RawMessage `json:"left"`
	Right      json.RawMessage `json:"right"`
	Operand    json.RawMessage `json:"operand"`
	Callee     json.RawMessage `json:"callee"`
	Target     json.RawMessage `json:"target"`
	Index      json.RawMessage `json:"index"`
	Condition  json.RawMessage `json:"condition"`
	Iterable   json.RawMessage `json:"iterable"`
	Subject    json.RawMessage `json:"subject"`
	Expression json.RawMessage `json:"expression"`

	Body      []json.RawMessage `json:"body"`
	Then      []json.RawMessage `json:"then"`
	Else      []json.RawMessage `json:"else"`
	Catch     []json.RawMessage `json:"catch"`
	Finally   []json.RawMessage `json:"finally"`
	Arguments []json.RawMessage `json:"arguments"`
	Elements  []json.RawMessage `json:"elements"`
	Methods   []json.RawMessage `json:"methods"`

	Entries []struct {
		Key   json.RawMessage `json:"key"`
		Value json.RawMessage `json:"value"`
	} `json:"entries"`
	Cases []struct {
		Value json.RawMessage   `json:"value"`
		Body  []json.RawMessage `json:"body"`
	} `json:"cases"`
}

// Parse reads a JSON program from r.
func Parse(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading AST: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes a JSON program. A bare statement list is accepted and
// wrapped in a Program.
func ParseBytes(data []byte) (*Program, error) {
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid AST JSON: %w", err)
	}
	if len(probe) > 0 && probe[0] == '[' {
		body, err := decodeList(probe)
		if err != nil {
			return nil, err
		}
		return &Program{Body: body}, nil
	}
	n, err := DecodeNode(probe)
	if err != nil {
		return nil, err
	}
	prog, ok := n.(*Program)
	if !ok {
		return &Program{Position: n.Pos(), Body: []Node{n}}, nil
	}
	return prog, nil
}

func decodeList(data json.RawMessage) ([]Node, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("invalid node list: %w", err)
	}
	return decodeNodes(items)
}

func decodeNodes(items []json.RawMessage) ([]Node, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]Node, len(items))
	for i, item := range items {
		n, err := DecodeNode(item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// decodeOptional decodes a child that may be absent or null.
func decodeOptional(data json.RawMessage) (Node, error) {
	if isNull(data) {
		return nil, nil
	}
	return DecodeNode(data)
}

// decodeRequired decodes a child that must be present.
func decodeRequired(data json.RawMessage, parent, field string, pos Position) (Node, error) {
	if isNull(data) {
		return nil, fmt.Errorf("%s at line %d:%d: missing %s", parent, pos.Line, pos.Column, field)
	}
	return DecodeNode(data)
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

// DecodeNode decodes a single JSON node.
func DecodeNode(data json.RawMessage) (Node, error) {
	var r rawNode
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid AST node: %w", err)
	}
	pos := Position{Line: r.Line, Column: r.Column}

	var err error
	req := func(field string, raw json.RawMessage) Node {
		if err != nil {
			return nil
		}
		var n Node
		n, err = decodeRequired(raw, r.Type, field, pos)
		return n
	}
	opt := func(raw json.RawMessage) Node {
		if err != nil {
			return nil
		}
		var n Node
		n, err = decodeOptional(raw)
		return n
	}
	list := func(items []json.RawMessage) []Node {
		if err != nil {
			return nil
		}
		var ns []Node
		ns, err = decodeNodes(items)
		return ns
	}

	var n Node
	switch r.Type {
	case TypeProgram:
		n = &Program{Position: pos, Body: list(r.Body)}
	case TypeImport:
		if r.Path == "" {
			return nil, fmt.Errorf("Import at line %d:%d: missing path", pos.Line, pos.Column)
		}
		n = &Import{Position: pos, Path: r.Path, Alias: r.Alias}
	case TypeNumber:
		var v float64
		if e := json.Unmarshal(r.Value, &v); e != nil {
			return nil, fmt.Errorf("Number at line %d:%d: %w", pos.Line, pos.Column, e)
		}
		n = &Number{Position: pos, Value: v}
	case TypeString:
		var v string
		if e := json.Unmarshal(r.Value, &v); e != nil {
			return nil, fmt.Errorf("String at line %d:%d: %w", pos.Line, pos.Column, e)
		}
		n = &String{Position: pos, Value: v}
	case TypeBoolean:
		var v bool
		if e := json.Unmarshal(r.Value, &v); e != nil {
			return nil, fmt.Errorf("Boolean at line %d:%d: %w", pos.Line, pos.Column, e)
		}
		n = &Boolean{Position: pos, Value: v}
	case TypeNull:
		n = &Null{Position: pos}
	case TypeIdentifier:
		n = &Identifier{Position: pos, Name: r.Name}
	case TypeAssignment:
		n = &Assignment{Position: pos, Name: r.Name, Value: req("value", r.Value)}
	case TypeDeclaration:
		n = &Declaration{Position: pos, Name: r.Name, Value: opt(r.Value), Const: r.Const}
	case TypeIndexAssignment:
		n = &IndexAssignment{Position: pos, Target: req("target", r.Target), Index: req("index", r.Index), Value: req("value", r.Value)}
	case TypeBinaryOp:
		n = &BinaryOp{Position: pos, Left: req("left", r.Left), Op: r.Op, Right: req("right", r.Right)}
	case TypeUnaryOp:
		n = &UnaryOp{Position: pos, Op: r.Op, Operand: req("operand", r.Operand)}
	case TypeCall:
		n = &Call{Position: pos, Callee: req("callee", r.Callee), Arguments: list(r.Arguments)}
	case TypeArray:
		n = &Array{Position: pos, Elements: list(r.Elements)}
	case TypeDict:
		d := &Dict{Position: pos}
		for _, e := range r.Entries {
			d.Entries = append(d.Entries, DictEntry{Key: req("key", e.Key), Value: req("value", e.Value)})
		}
		n = d
	case TypeIndex:
		n = &Index{Position: pos, Target: req("target", r.Target), Index: req("index", r.Index)}
	case TypeFunctionDef:
		n = &FunctionDef{
			Position:   pos,
			Name:       r.Name,
			Params:     r.Params,
			Body:       list(r.Body),
			IsStatic:   r.IsStatic,
			ReturnType: r.ReturnType,
			Attributes: r.Attributes,
		}
	case TypeIf:
		n = &If{Position: pos, Condition: req("condition", r.Condition), Then: list(r.Then), Else: list(r.Else)}
	case TypeWhile:
		n = &While{Position: pos, Condition: req("condition", r.Condition), Body: list(r.Body)}
	case TypeDoWhile:
		n = &DoWhile{Position: pos, Condition: req("condition", r.Condition), Body: list(r.Body)}
	case TypeFor:
		n = &For{Position: pos, Iterator: r.Iterator, Iterable: req("iterable", r.Iterable), Body: list(r.Body)}
	case TypeReturn:
		n = &Return{Position: pos, Value: opt(r.Value)}
	case TypeBreak:
		n = &Break{Position: pos}
	case TypeContinue:
		n = &Continue{Position: pos}
	case TypeThrow:
		n = &Throw{Position: pos, Value: req("value", r.Value)}
	case TypeTry:
		n = &Try{Position: pos, Body: list(r.Body), CatchVar: r.CatchVar, Catch: list(r.Catch), Finally: list(r.Finally)}
	case TypeClassDef:
		c := &ClassDef{Position: pos, Name: r.Name, Parent: r.Parent}
		for _, m := range list(r.Methods) {
			fn, ok := m.(*FunctionDef)
			if !ok {
				return nil, fmt.Errorf("ClassDef %s: method is %s, want FunctionDef", r.Name, m.NodeType())
			}
			c.Methods = append(c.Methods, fn)
		}
		n = c
	case TypeSwitch:
		s := &Switch{Position: pos, Subject: req("subject", r.Subject)}
		for _, c := range r.Cases {
			s.Cases = append(s.Cases, SwitchCase{Value: opt(c.Value), Body: list(c.Body)})
		}
		n = s
	case TypeExpressionStatement:
		n = &ExpressionStatement{Position: pos, Expression: req("expression", r.Expression)}
	case "":
		return nil, fmt.Errorf("AST node at line %d:%d has no type", pos.Line, pos.Column)
	default:
		return nil, fmt.Errorf("unknown AST node type %q at line %d:%d", r.Type, pos.Line, pos.Column)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}
