package compiler

import (
	"fmt"

	"github.com/ollang/ollang/compiler/hash"
	"github.com/ollang/ollang/pkg/ast"
)

// CacheKey identifies the module that compiling prog with opts produces.
// Layout-only edits keep the key unless positions are compiled in.
func CacheKey(prog *ast.Program, opts Options) ([32]byte, error) {
	salt, err := cborEncMode.Marshal(opts)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding compiler options: %w", err)
	}
	return hash.HashWithSalt(prog, opts.DebugInfo, salt), nil
}
