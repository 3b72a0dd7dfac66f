package linker

import (
	"sync"

	"github.com/pterm/pterm"
)

// Diagnostic colors, in the same tag+colored-message shape as the reference
// compiler toolchain's logging package.
var (
	infoStyleBG = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	infoColorFG = pterm.FgLightGreen
	warnStyleBG = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	warnColorFG = pterm.FgYellow
)

// Diagnostics is the linker's synchronized line-oriented output sink
// (spec.md's ctx.diagnostics). -print-gc-sections and other concurrent
// passes all write through here instead of directly to stdout, since
// multiple worker goroutines may be emitting lines at once.
type Diagnostics struct {
	mu sync.Mutex
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Println writes a single unstyled line, synchronized against concurrent
// writers.
func (d *Diagnostics) Println(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pterm.Println(line)
}

// GCSectionRemoved reports one section killed by the sweeper.
func (d *Diagnostics) GCSectionRemoved(objName string, isec *InputSection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	infoStyleBG.Print(" gc ")
	infoColorFG.Printfln(" removing unused section %s in file %s", isec.Name(), objName)
}

// Warn prints a yellow warning line.
func (d *Diagnostics) Warn(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	warnStyleBG.Print(" warn ")
	warnColorFG.Printfln(" %s", msg)
}
