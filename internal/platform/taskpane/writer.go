package taskpane

import (
	"context"
	"fmt"
	"io"
)

// WriterPanel prints each navigation as a URL line. SetVisible is a no-op.
type WriterPanel struct {
	w io.Writer
}

func NewWriterPanel(w io.Writer) *WriterPanel {
	return &WriterPanel{w: w}
}

func (p *WriterPanel) SetVisible(context.Context, bool) error {
	return nil
}

func (p *WriterPanel) Navigate(_ context.Context, url string) error {
	_, err := fmt.Fprintln(p.w, url)
	return err
}
