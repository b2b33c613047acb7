package compiler

// Options controls code generation.
type Options struct {
	// Optimize runs the peephole optimizer over the sealed module.
	Optimize bool `cbor:"1,keyasint" toml:"optimize"`
	// DebugInfo records source line and column on every instruction.
	DebugInfo bool `cbor:"2,keyasint" toml:"debug-info"`
	// StrictMode rejects assignment to names that were never declared.
	StrictMode bool `cbor:"3,keyasint" toml:"strict"`
	// OptimizationLevel selects the optimizer passes; 0 disables them.
	OptimizationLevel int `cbor:"4,keyasint" toml:"optimization-level"`
	// GenerateSourceMap stores a CBOR source map in Module.CustomData.
	GenerateSourceMap bool `cbor:"5,keyasint" toml:"source-map"`
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Optimize:          true,
		DebugInfo:         true,
		OptimizationLevel: 1,
	}
}

// optimizationLevel is the level the optimizer actually runs at.
func (o Options) optimizationLevel() int {
	if !o.Optimize {
		return 0
	}
	return o.OptimizationLevel
}
