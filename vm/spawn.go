package vm

import (
	"errors"
	"maps"

	"github.com/ollang/ollang/pkg/value"
)

var errClosed = errors.New("VM is closed")

// spawn runs fn on a new VM over the same module. The new VM starts from a
// snapshot of this VM's globals; containers in the snapshot are shared by
// reference.
func (vm *VM) spawn(fn value.Value, args []value.Value) error {
	if !value.IsCallable(fn) {
		return runtimeErrorf("Attempt to spawn non-callable %s", value.TypeName(fn))
	}

	vm.spawnedMu.Lock()
	defer vm.spawnedMu.Unlock()
	if vm.closed {
		return errClosed
	}

	child := vm.fork(vm.module, maps.Clone(vm.globals))
	name := fn.String()
	vm.spawned.Go(func() error {
		defer child.Close()
		_, err := child.Call(fn, args...)
		if err != nil {
			vm.log.Errorf("spawned %s: %s", name, err)
			return err
		}
		vm.log.Debugf("spawned %s finished", name)
		return nil
	})
	return nil
}
