package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/tablecast/internal/calibration"
	"github.com/banshee-data/tablecast/internal/channel"
	"github.com/banshee-data/tablecast/internal/detect"
	"github.com/banshee-data/tablecast/internal/fsutil"
)

// calibrationMarkers are the marker ids placed on the table corners.
var calibrationMarkers = detect.DefaultQuadIDs

// readKeys sends every rune read from r, skipping line breaks, and closes
// the channel at EOF.
func readKeys(ctx context.Context, r io.Reader) <-chan rune {
	keys := make(chan rune)
	go func() {
		defer close(keys)
		br := bufio.NewReader(r)
		for {
			k, _, err := br.ReadRune()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Printf("[Organizer] Reading keys: %v", err)
				}
				return
			}
			if k == '\n' || k == '\r' {
				continue
			}
			select {
			case keys <- k:
			case <-ctx.Done():
				return
			}
		}
	}()
	return keys
}

// calibrateProjector runs the interactive projector calibration: the four
// markers are published to the display and moved with keys until saved.
// Existing points at path seed the session.
func calibrateProjector(ctx context.Context, h *channel.Handler, fsys fsutil.FileSystem, path string, w, hgt int, in io.Reader) error {
	pts, err := calibration.LoadPoints(fsys, path)
	if err != nil {
		log.Printf("[Organizer] No usable projector calibration at %s, starting from defaults: %v", path, err)
		pts = nil
	}
	session, err := calibration.NewSession(w, hgt, pts)
	if err != nil {
		return err
	}
	log.Printf("[Organizer] Projector calibration: 1-4 select, wasd move 20px, WASD move 1px, e save, q quit")

	if _, err := h.Publish(ctx, session.Playfield()); err != nil {
		return err
	}
	keys := readKeys(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			switch session.HandleKey(k) {
			case calibration.ActionQuit:
				return nil
			case calibration.ActionSave:
				if err := calibration.SavePoints(fsys, path, session.Points()); err != nil {
					return err
				}
			}
			if _, err := h.Publish(ctx, session.Playfield()); err != nil {
				log.Printf("[Organizer] Publish failed: %v", err)
			}
		}
	}
}

// calibrateCamera waits for a frame showing all four calibration markers
// and saves their camera positions to path.
func calibrateCamera(ctx context.Context, frames <-chan detect.Frame, fsys fsutil.FileSystem, path string) error {
	log.Printf("[Organizer] Camera calibration: waiting for markers %v", calibrationMarkers)
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if lastErr == nil {
					lastErr = errors.New("no frames")
				}
				return fmt.Errorf("detections ended before all markers were seen: %w", lastErr)
			}
			quad, err := f.Markers.Quad(calibrationMarkers)
			if err != nil {
				lastErr = err
				continue
			}
			return calibration.SavePoints(fsys, path, quad[:])
		}
	}
}
