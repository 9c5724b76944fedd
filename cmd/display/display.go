package main

import (
	"bytes"
	"fmt"
	"log"

	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/playfield"
	"github.com/banshee-data/tablecast/internal/render"
)

// frameWriter writes the reconstructed playfield to disk whenever it
// visibly changes.
type frameWriter struct {
	fsys    fsutil.FileSystem
	out     string
	pdf     string
	opts    render.Options
	last    *playfield.Playfield
	written int
}

// Draw renders pf if it differs from the last written frame. It reports
// whether a file was written.
func (w *frameWriter) Draw(pf *playfield.Playfield) (bool, error) {
	if w.last != nil && w.last.Visible(pf) {
		return false, nil
	}
	if w.out != "" {
		if err := render.SavePNG(w.fsys, w.out, pf, w.opts); err != nil {
			return false, err
		}
	}
	w.last = pf.Clone()
	w.written++
	if w.written == 1 || w.written%100 == 0 {
		log.Printf("[Display] Frame %d: %d forms", w.written, pf.Len())
	}
	return true, nil
}

// Export writes the last drawn frame as a PDF, when -pdf is set.
func (w *frameWriter) Export() error {
	if w.pdf == "" || w.last == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := render.WritePDF(&buf, w.last); err != nil {
		return err
	}
	if err := w.fsys.WriteFile(w.pdf, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", w.pdf, err)
	}
	log.Printf("[Display] Exported %s", w.pdf)
	return nil
}
