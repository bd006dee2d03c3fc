package mathpresso

import (
	"math"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	kind LogKind
	line int
	col  int
	msg  string
}

type recordingLog struct {
	entries []logEntry
}

func (r *recordingLog) Log(kind LogKind, line, col int, msg string) {
	r.entries = append(r.entries, logEntry{kind, line, col, msg})
}

func (r *recordingLog) has(kind LogKind) bool {
	for _, e := range r.entries {
		if e.kind == kind {
			return true
		}
	}
	return false
}

func (r *recordingLog) last(kind LogKind) string {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].kind == kind {
			return r.entries[i].msg
		}
	}
	return ""
}

func newContext(t *testing.T) *Context {
	t.Helper()
	ctx := NewContext()
	require.NoError(t, ctx.AddVariable("x", 0))
	require.NoError(t, ctx.AddVariable("y", 8))
	require.NoError(t, ctx.AddBuiltins())
	return ctx
}

func record(x, y float64) []float64 { return []float64{x, y} }
func ptrOf(data []float64) unsafe.Pointer { return unsafe.Pointer(&data[0]) }

func TestSimpleArithmeticPrecedence(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	require.Nil(t, expr.Compile(ctx, "1+2*3", None, nil))
	assert.True(t, expr.IsCompiled())
	assert.Equal(t, 7.0, expr.Evaluate(ptrOf(record(0, 0))))
}

func TestDoubleNegationOptimizesToBareVariable(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	log := &recordingLog{}
	require.Nil(t, expr.Compile(ctx, "-(-(x))", DebugAst, log))
	assert.Equal(t, 2.5, expr.Evaluate(ptrOf(record(2.5, 0))))

	final := log.last(LogAstFinal)
	assert.Equal(t, "(block x)", final)
}

func TestReassociationFoldsIntoSingleImmediate(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	log := &recordingLog{}
	require.Nil(t, expr.Compile(ctx, "2 + x + 3", DebugAst, log))
	assert.Equal(t, 15.0, expr.Evaluate(ptrOf(record(10, 0))))

	assert.Equal(t, "(block (+ x 5))", log.last(LogAstFinal))
}

func TestNestedBuiltinCalls(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	require.Nil(t, expr.Compile(ctx, "abs(x*y - floor(x))", None, nil))
	result := expr.Evaluate(ptrOf(record(12.2, 9.2)))
	assert.InDelta(t, 100.24, result, 1e-9)
}

func TestAssignmentMutatesDataAndYieldsValue(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	require.Nil(t, expr.Compile(ctx, "x = y + 1; x*x", None, nil))
	data := record(0, 4)
	result := expr.Evaluate(ptrOf(data))
	assert.Equal(t, 25.0, result)
	assert.Equal(t, 5.0, data[0])
}

func TestFullyConstantFolded(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	log := &recordingLog{}
	require.Nil(t, expr.Compile(ctx, "sqrt(pow(3,2) + pow(4,2))", DebugAst, log))
	assert.Equal(t, 5.0, expr.Evaluate(ptrOf(record(0, 0))))
	assert.Equal(t, "(block 5)", log.last(LogAstFinal))
}

func TestUncompiledExpressionEvaluatesToNaN(t *testing.T) {
	expr := NewExpression()
	assert.False(t, expr.IsCompiled())
	assert.True(t, math.IsNaN(expr.Evaluate(ptrOf(record(0, 0)))))
}

func TestCompileErrorLeavesExpressionInPreCallState(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	require.Nil(t, expr.Compile(ctx, "1+2*3", None, nil))
	require.True(t, expr.IsCompiled())

	err := expr.Compile(ctx, "1 + ", None, nil)
	require.NotNil(t, err)

	// The previous successful compile must still be the one Evaluate runs.
	assert.True(t, expr.IsCompiled())
	assert.Equal(t, 7.0, expr.Evaluate(ptrOf(record(0, 0))))
}

func TestEmptySourceIsNoExpression(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	err := expr.Compile(ctx, "   ", None, nil)
	require.NotNil(t, err)
	assert.Equal(t, "NoExpression", err.Code.String())
	assert.False(t, expr.IsCompiled())
	assert.True(t, math.IsNaN(expr.Evaluate(ptrOf(record(0, 0)))))
}

func TestUnresolvedSymbolSurfacesViaLog(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	log := &recordingLog{}
	err := expr.Compile(ctx, "nonexistent + 1", None, log)
	require.NotNil(t, err)
	assert.Equal(t, "UnresolvedSymbol", err.Code.String())
	require.True(t, log.has(LogError))
}

func TestAssignToConstantIsInvalidAssignment(t *testing.T) {
	ctx := newContext(t)
	err := ctx.AddConstant("K", 1)
	require.NoError(t, err)
	expr := NewExpression()
	compileErr := expr.Compile(ctx, "K = 2", None, nil)
	require.NotNil(t, compileErr)
	assert.Equal(t, "InvalidAssignment", compileErr.Code.String())
}

func TestDiscardedStatementValueWarns(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	log := &recordingLog{}
	require.Nil(t, expr.Compile(ctx, "1+1; x", Verbose, log))
	assert.True(t, log.has(LogWarning))
}

func TestDebugMachineCodeLogsBytesWhenNativeBackendAvailable(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	log := &recordingLog{}
	require.Nil(t, expr.Compile(ctx, "x + 1", DebugMachineCode, log))
	if nativeEmitter() != nil {
		assert.True(t, log.has(LogMachineCode))
	} else {
		assert.False(t, log.has(LogMachineCode))
	}
}

func TestStdOutputLogWritesFormattedLines(t *testing.T) {
	var buf strings.Builder
	sl := NewStdOutputLog(&buf)
	sl.Log(LogError, 1, 5, "boom")
	assert.Contains(t, buf.String(), "Error")
	assert.Contains(t, buf.String(), "1:5")
	assert.Contains(t, buf.String(), "boom")
}

func TestOptionsHasIgnoresUnknownBits(t *testing.T) {
	opts := Options(0x80) | DebugAst
	assert.True(t, opts.Has(DebugAst))
	assert.False(t, opts.Has(Verbose))
}

func TestConcurrentEvaluationOnDisjointData(t *testing.T) {
	ctx := newContext(t)
	expr := NewExpression()
	require.Nil(t, expr.Compile(ctx, "x*x + y", None, nil))

	const n = 64
	results := make([]float64, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func(i int) {
			data := record(float64(i), float64(i)*2)
			results[i] = expr.Evaluate(ptrOf(data))
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	for i := 0; i < n; i++ {
		want := float64(i)*float64(i) + float64(i)*2
		assert.Equal(t, want, results[i])
	}
}
