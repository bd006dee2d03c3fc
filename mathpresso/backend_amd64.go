//go:build amd64 && unix

package mathpresso

import (
	"github.com/skx/mathpresso-go/jit"
	"github.com/skx/mathpresso-go/jit/amd64"
)

// nativeEmitter returns this platform's native Emitter.
func nativeEmitter() jit.Emitter {
	return amd64.New()
}
