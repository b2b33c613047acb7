// Package hash computes content hashes of ollang syntax trees. The compiled
// module cache keys entries by these hashes.
package hash

import (
	"crypto/sha256"

	"github.com/ollang/ollang/pkg/ast"
)

// HashProgram computes the SHA-256 content hash of a program.
//
// The hash is computed over a deterministic serialization of the tree.
// With positions false, two programs that differ only in layout hash the
// same; set it when the compiled output records source positions.
func HashProgram(prog *ast.Program, positions bool) [32]byte {
	return sha256.Sum256(Serialize(prog, positions))
}

// HashWithSalt mixes extra bytes (for example encoded compiler options)
// into a program hash.
func HashWithSalt(prog *ast.Program, positions bool, salt []byte) [32]byte {
	h := sha256.New()
	h.Write(Serialize(prog, positions))
	h.Write(salt)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
