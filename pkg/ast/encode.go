package ast

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Encode renders a node as JSON in the same shape DecodeNode reads.
func Encode(n Node) ([]byte, error) {
	obj, err := toJSON(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func toJSONList(nodes []Node) ([]any, error) {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		v, err := toJSON(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func toJSON(n Node) (any, error) {
	if n == nil {
		return nil, nil
	}
	pos := n.Pos()
	obj := map[string]any{"type": n.NodeType(), "line": pos.Line, "column": pos.Column}

	var err error
	child := func(key string, c Node) {
		if err == nil {
			obj[key], err = toJSON(c)
		}
	}
	children := func(key string, cs []Node) {
		if err == nil && len(cs) > 0 {
			obj[key], err = toJSONList(cs)
		}
	}

	switch v := n.(type) {
	case *Program:
		children("body", v.Body)
	case *Import:
		obj["path"] = v.Path
		if v.Alias != "" {
			obj["alias"] = v.Alias
		}
	case *Number:
		obj["value"] = v.Value
	case *String:
		obj["value"] = v.Value
	case *Boolean:
		obj["value"] = v.Value
	case *Null, *Break, *Continue:
	case *Identifier:
		obj["name"] = v.Name
	case *Assignment:
		obj["name"] = v.Name
		child("value", v.Value)
	case *Declaration:
		obj["name"] = v.Name
		obj["const"] = v.Const
		child("value", v.Value)
	case *IndexAssignment:
		child("target", v.Target)
		child("index", v.Index)
		child("value", v.Value)
	case *BinaryOp:
		obj["op"] = v.Op
		child("left", v.Left)
		child("right", v.Right)
	case *UnaryOp:
		obj["op"] = v.Op
		child("operand", v.Operand)
	case *Call:
		child("callee", v.Callee)
		children("arguments", v.Arguments)
	case *Array:
		children("elements", v.Elements)
	case *Dict:
		entries := make([]any, 0, len(v.Entries))
		for _, e := range v.Entries {
			k, kerr := toJSON(e.Key)
			if kerr != nil {
				return nil, kerr
			}
			val, verr := toJSON(e.Value)
			if verr != nil {
				return nil, verr
			}
			entries = append(entries, map[string]any{"key": k, "value": val})
		}
		obj["entries"] = entries
	case *Index:
		child("target", v.Target)
		child("index", v.Index)
	case *FunctionDef:
		obj["name"] = v.Name
		obj["params"] = v.Params
		obj["isStatic"] = v.IsStatic
		if v.ReturnType != "" {
			obj["returnType"] = v.ReturnType
		}
		if len(v.Attributes) > 0 {
			obj["attributes"] = v.Attributes
		}
		children("body", v.Body)
	case *If:
		child("condition", v.Condition)
		children("then", v.Then)
		children("else", v.Else)
	case *While:
		child("condition", v.Condition)
		children("body", v.Body)
	case *DoWhile:
		child("condition", v.Condition)
		children("body", v.Body)
	case *For:
		obj["iterator"] = v.Iterator
		child("iterable", v.Iterable)
		children("body", v.Body)
	case *Return:
		child("value", v.Value)
	case *Throw:
		child("value", v.Value)
	case *Try:
		children("body", v.Body)
		if v.CatchVar != "" {
			obj["catchVar"] = v.CatchVar
		}
		children("catch", v.Catch)
		children("finally", v.Finally)
	case *ClassDef:
		obj["name"] = v.Name
		if v.Parent != "" {
			obj["parent"] = v.Parent
		}
		methods := make([]Node, len(v.Methods))
		for i, m := range v.Methods {
			methods[i] = m
		}
		children("methods", methods)
	case *Switch:
		child("subject", v.Subject)
		cases := make([]any, 0, len(v.Cases))
		for _, c := range v.Cases {
			val, cerr := toJSON(c.Value)
			if cerr != nil {
				return nil, cerr
			}
			body, berr := toJSONList(c.Body)
			if berr != nil {
				return nil, berr
			}
			cases = append(cases, map[string]any{"value": val, "body": body})
		}
		obj["cases"] = cases
	case *ExpressionStatement:
		child("expression", v.Expression)
	default:
		return nil, fmt.Errorf("cannot encode node %T", n)
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}
