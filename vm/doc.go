// Package vm executes compiled ollang modules.
//
// A VM runs one module on a single goroutine. It owns an operand stack, a
// frame stack and a generational collector (package gc) for the native
// memory that Pointer values address. Bytecode functions run in the
// interpreter loop; builtins, classes and bound methods complete in place.
// Host code re-enters the loop through Call, which is how builtins such as
// array callbacks invoke script functions.
//
// # Errors
//
// Failures raised inside a try block unwind to its handler and the catch
// block receives the failure message. Allocation failures, stack overflow
// and context cancellation are never caught. Anything that escapes becomes
// a *RuntimeError with the innermost source location, the call stack and a
// hint where one applies.
//
// # Imports
//
// IMPORT resolves a path against the module's embedded virtual files, the
// file system and the configured library directories. Compiled modules load
// directly; JSON syntax trees are compiled, through the ModuleCache when one
// is configured; other sources need a Frontend. Each imported module runs
// once per VM on a child VM that lives until Close.
//
// # Spawn
//
// SPAWN and the spawn builtin run a function on a new VM over the same
// module, seeded with a snapshot of the globals. Wait joins them.
package vm
