package cli

import (
	"fmt"
	"io"
)

// printer writes human-readable command output.
type printer struct {
	w io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) check(name string, ok bool, detail string) {
	mark := "ok  "
	if !ok {
		mark = "FAIL"
	}
	fmt.Fprintf(p.w, "  [%s] %s: %s\n", mark, name, detail)
}

func (p *printer) info(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}
