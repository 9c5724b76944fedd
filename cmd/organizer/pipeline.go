package main

import (
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/tablecast/internal/config"
	"github.com/banshee-data/tablecast/internal/detect"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/guide"
	"github.com/banshee-data/tablecast/internal/homography"
	"github.com/banshee-data/tablecast/internal/playfield"
)

// Playfield ids owned by the organizer. Markers and pointers get a block
// each so a changing count never collides with the fixed ids.
const (
	stepID        = 1
	zoneID        = 2
	markerBaseID  = 100
	pointerBaseID = 1000

	pointerRadius = 12
	markerRadius  = 8
)

// Pipeline turns detection frames into the projector playfield. It is
// driven from a single loop and is not safe for concurrent use.
type Pipeline struct {
	camToTable  *homography.Transformer
	tableToProj *homography.Transformer

	steps *guide.Sequencer // nil without configured steps
	zone  *guide.Zone      // nil without a configured zone

	zoneIdle     playfield.RGB
	zoneActive   playfield.RGB
	pointerColor playfield.RGB

	// skip lists the calibration marker ids, which are not drawn.
	skip map[int]bool

	table *playfield.Playfield
	proj  *playfield.Playfield
	last  detect.Frame
}

// NewPipeline builds a pipeline for scene. proj is the projector playfield
// the organizer publishes; passing the restored snapshot lets the first
// frame delete whatever a previous run left on screen.
func NewPipeline(scene *config.Scene, camToTable, tableToProj *homography.Transformer, proj *playfield.Playfield) (*Pipeline, error) {
	tw, th := scene.GetTableSize()
	table, err := playfield.New(tw, th)
	if err != nil {
		return nil, fmt.Errorf("table playfield: %w", err)
	}
	p := &Pipeline{
		camToTable:   camToTable,
		tableToProj:  tableToProj,
		zoneIdle:     scene.GetZoneColor(),
		zoneActive:   scene.GetZoneActiveColor(),
		pointerColor: scene.GetPointerColor(),
		skip:         map[int]bool{},
		table:        table,
		proj:         proj,
	}
	for _, id := range calibrationMarkers {
		p.skip[id] = true
	}

	steps, err := scene.GetSteps()
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		if p.steps, err = guide.NewSequencer(steps...); err != nil {
			return nil, err
		}
	}
	if len(scene.Zone) >= 3 {
		p.zone = guide.NewZone(scene.Zone, scene.GetDwell())
	}
	return p, nil
}

// Step applies a remote step command. It reports whether the visible step
// changed.
func (p *Pipeline) Step(cmd guide.Command) (bool, error) {
	if p.steps == nil {
		return false, nil
	}
	before := p.steps.State()
	after, err := p.steps.Apply(cmd)
	if err != nil {
		return false, err
	}
	if after != before {
		log.Printf("[Organizer] Step %s: %d -> %d of %d", cmd, before+1, after+1, p.steps.Len())
	}
	return after != before, nil
}

// StepState returns the current step index, or -1 without steps.
func (p *Pipeline) StepState() int {
	if p.steps == nil {
		return -1
	}
	return p.steps.State()
}

// Frame rebuilds the scene from one detection frame and returns the
// projector playfield. Forms that cannot be projected are left out and
// reported in the error; the returned playfield is still usable.
func (p *Pipeline) Frame(f detect.Frame, now time.Time) (*playfield.Playfield, error) {
	p.last = f
	p.table.Clear()

	pointers := p.toTable(guide.Pointers(f.Hands))
	if p.zone != nil {
		if p.zone.Update(pointers, now) && p.steps != nil {
			n := p.steps.Next()
			log.Printf("[Organizer] Zone triggered, step %d of %d", n+1, p.steps.Len())
		}
		p.table.Put(zoneID, p.zone.Form(p.zoneIdle, p.zoneActive))
	}
	if p.steps != nil {
		p.table.Put(stepID, p.steps.Current())
	}

	for _, m := range f.Markers {
		if p.skip[m.ID] {
			continue
		}
		pos, err := m.Position()
		if err != nil {
			continue
		}
		pts := p.toTable([]geom.Point{pos})
		if len(pts) == 0 {
			continue
		}
		p.table.Put(markerBaseID+m.ID, playfield.Circle{
			Color:  p.pointerColor,
			Center: pts[0],
			Radius: markerRadius,
		})
	}
	for i, pt := range pointers {
		p.table.Put(pointerBaseID+i, playfield.Circle{
			Color:  p.pointerColor,
			Center: pt,
			Radius: pointerRadius,
			Filled: true,
		})
	}

	p.proj.Clear()
	err := p.tableToProj.TransformPlayfield(p.table, p.proj)
	return p.proj, err
}

// Redraw rebuilds the scene from the last frame, for step changes that
// arrive between frames.
func (p *Pipeline) Redraw(now time.Time) (*playfield.Playfield, error) {
	return p.Frame(p.last, now)
}

// toTable maps camera points into the table plane, dropping any that map
// to infinity.
func (p *Pipeline) toTable(pts []geom.Point) []geom.Point {
	out := make([]geom.Point, 0, len(pts))
	for _, pt := range pts {
		q, err := p.camToTable.MapPoint(pt)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out
}
