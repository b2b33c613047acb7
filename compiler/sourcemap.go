package compiler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/ollang/ollang/pkg/bytecode"
)

// sourceMapMagic prefixes a source map stored in Module.CustomData.
var sourceMapMagic = []byte("OLSM")

// ErrNoSourceMap is returned when a module carries no source map.
var ErrNoSourceMap = errors.New("module has no source map")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Position is a source location recorded for one instruction.
type Position struct {
	_      struct{} `cbor:",toarray"`
	Line   int32
	Column int32
}

// SourceMap maps every instruction of every function back to the source.
type SourceMap struct {
	BuildID   string                `cbor:"1,keyasint"`
	Module    string                `cbor:"2,keyasint"`
	Source    string                `cbor:"3,keyasint,omitempty"`
	Options   Options               `cbor:"4,keyasint"`
	Functions map[string][]Position `cbor:"5,keyasint"`
}

// Lookup returns the position of instruction ip in function fn.
func (s *SourceMap) Lookup(fn string, ip int) (Position, bool) {
	positions, ok := s.Functions[fn]
	if !ok || ip < 0 || ip >= len(positions) {
		return Position{}, false
	}
	return positions[ip], true
}

// BuildSourceMap collects the positions of m's instructions.
func BuildSourceMap(m *bytecode.Module, opts Options) *SourceMap {
	sm := &SourceMap{
		BuildID:   uuid.New().String(),
		Module:    m.Name,
		Source:    m.FilePath,
		Options:   opts,
		Functions: make(map[string][]Position),
	}
	var walk func(fn *bytecode.Function)
	walk = func(fn *bytecode.Function) {
		positions := make([]Position, len(fn.Instructions))
		for i, in := range fn.Instructions {
			positions[i] = Position{Line: in.Line, Column: in.Column}
		}
		sm.Functions[fn.Name] = positions
		for _, nested := range fn.NestedFunctions {
			walk(nested)
		}
	}
	for _, fn := range m.AllFunctions() {
		walk(fn)
	}
	return sm
}

// MarshalSourceMap encodes sm as CBOR behind the source map magic.
func MarshalSourceMap(sm *SourceMap) ([]byte, error) {
	data, err := cborEncMode.Marshal(sm)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), sourceMapMagic...), data...), nil
}

func attachSourceMap(m *bytecode.Module, opts Options) error {
	data, err := MarshalSourceMap(BuildSourceMap(m, opts))
	if err != nil {
		return err
	}
	m.CustomData = data
	return nil
}

// DecodeSourceMap reads the source map stored in m.CustomData.
func DecodeSourceMap(m *bytecode.Module) (*SourceMap, error) {
	if !bytes.HasPrefix(m.CustomData, sourceMapMagic) {
		return nil, ErrNoSourceMap
	}
	var sm SourceMap
	if err := cbor.Unmarshal(m.CustomData[len(sourceMapMagic):], &sm); err != nil {
		return nil, fmt.Errorf("compiler: unmarshal source map: %w", err)
	}
	return &sm, nil
}
