package detector

import "runtime"

// Frame is a symbolized program counter.
type Frame struct {
	PC       uintptr
	Function string
	File     string
	Line     int
}

// Symbolizer turns program counters into frames for race reports.
type Symbolizer interface {
	Symbolize(pc uintptr) Frame
}

// RuntimeSymbolizer resolves pcs of the current Go binary through
// runtime.FuncForPC. Unknown pcs produce a frame with Function "??".
type RuntimeSymbolizer struct{}

// Symbolize implements Symbolizer.
func (RuntimeSymbolizer) Symbolize(pc uintptr) Frame {
	f := Frame{PC: pc, Function: "??"}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return f
	}
	f.Function = fn.Name()
	f.File, f.Line = fn.FileLine(pc)
	return f
}

// SymbolizerFunc adapts a function to the Symbolizer interface.
type SymbolizerFunc func(pc uintptr) Frame

// Symbolize implements Symbolizer.
func (f SymbolizerFunc) Symbolize(pc uintptr) Frame {
	return f(pc)
}
