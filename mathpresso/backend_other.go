//go:build !(amd64 && unix)

package mathpresso

import "github.com/skx/mathpresso-go/jit"

// nativeEmitter reports that no native backend exists for this
// platform; generate falls back to jit/eval.
func nativeEmitter() jit.Emitter {
	return nil
}
