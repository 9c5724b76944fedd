package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/banshee-data/tablecast/internal/codec"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
)

// Default calibration file names, relative to the working directory.
const (
	DefaultCameraCalibration    = "cal_cam.json"
	DefaultTableCalibration     = "cal_table.json"
	DefaultProjectorCalibration = "cal_projector.json"
)

const maxSceneFileSize = 1 * 1024 * 1024 // 1MB

// Scene describes the table and the guide content the organizer projects.
// Fields omitted from the JSON keep their defaults, so partial files are
// safe.
type Scene struct {
	TableWidth  *int `json:"table_width,omitempty"`
	TableHeight *int `json:"table_height,omitempty"`

	CameraCalibration    *string `json:"camera_calibration,omitempty"`
	TableCalibration     *string `json:"table_calibration,omitempty"`
	ProjectorCalibration *string `json:"projector_calibration,omitempty"`

	// Activation zone in table coordinates. Empty disables the zone.
	Zone            []geom.Point `json:"zone,omitempty"`
	Dwell           *string      `json:"dwell,omitempty"` // duration string like "800ms"
	ZoneColor       *string      `json:"zone_color,omitempty"`
	ZoneActiveColor *string      `json:"zone_active_color,omitempty"`
	PointerColor    *string      `json:"pointer_color,omitempty"`

	// Guide steps, each a form in snapshot wire format, in table
	// coordinates.
	Steps []json.RawMessage `json:"steps,omitempty"`

	ResyncInterval *string `json:"resync_interval,omitempty"`
}

// LoadScene loads a Scene from a JSON file. The path must have a .json
// extension and the file must be under 1MB.
func LoadScene(path string) (*Scene, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("scene file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scene file: %w", err)
	}
	if fileInfo.Size() > maxSceneFileSize {
		return nil, fmt.Errorf("scene file too large: %d bytes (max %d)", fileInfo.Size(), maxSceneFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	return ParseScene(data)
}

// ParseScene decodes and validates a scene document.
func ParseScene(data []byte) (*Scene, error) {
	s := &Scene{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse scene JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return s, nil
}

// Validate checks that the configured values are usable.
func (s *Scene) Validate() error {
	if s.TableWidth != nil && *s.TableWidth <= 0 {
		return fmt.Errorf("table_width must be positive, got %d", *s.TableWidth)
	}
	if s.TableHeight != nil && *s.TableHeight <= 0 {
		return fmt.Errorf("table_height must be positive, got %d", *s.TableHeight)
	}
	if len(s.Zone) > 0 && len(s.Zone) < 3 {
		return fmt.Errorf("zone needs at least 3 points, got %d", len(s.Zone))
	}
	for _, d := range []struct {
		name string
		v    *string
	}{{"dwell", s.Dwell}, {"resync_interval", s.ResyncInterval}} {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}
	for _, c := range []struct {
		name string
		v    *string
	}{{"zone_color", s.ZoneColor}, {"zone_active_color", s.ZoneActiveColor}, {"pointer_color", s.PointerColor}} {
		if c.v == nil {
			continue
		}
		if _, err := ParseColor(*c.v); err != nil {
			return fmt.Errorf("invalid %s: %w", c.name, err)
		}
	}
	if _, err := s.GetSteps(); err != nil {
		return err
	}
	return nil
}

// ParseColor parses a "#rrggbb" or "#rgb" hex color.
func ParseColor(hex string) (playfield.RGB, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return playfield.RGB{}, fmt.Errorf("color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return playfield.RGB{R: r, G: g, B: b}, nil
}

func colorOr(v *string, def playfield.RGB) playfield.RGB {
	if v == nil {
		return def
	}
	c, err := ParseColor(*v)
	if err != nil {
		return def
	}
	return c
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetTableSize returns the table plane size, 1000x500 by default.
func (s *Scene) GetTableSize() (int, int) {
	w, h := 1000, 500
	if s.TableWidth != nil {
		w = *s.TableWidth
	}
	if s.TableHeight != nil {
		h = *s.TableHeight
	}
	return w, h
}

// GetCameraCalibration returns the camera calibration path.
func (s *Scene) GetCameraCalibration() string {
	if s.CameraCalibration == nil || *s.CameraCalibration == "" {
		return DefaultCameraCalibration
	}
	return *s.CameraCalibration
}

// GetTableCalibration returns the table calibration path.
func (s *Scene) GetTableCalibration() string {
	if s.TableCalibration == nil || *s.TableCalibration == "" {
		return DefaultTableCalibration
	}
	return *s.TableCalibration
}

// GetProjectorCalibration returns the projector calibration path.
func (s *Scene) GetProjectorCalibration() string {
	if s.ProjectorCalibration == nil || *s.ProjectorCalibration == "" {
		return DefaultProjectorCalibration
	}
	return *s.ProjectorCalibration
}

// GetDwell returns how long a pointer must stay in the zone, 800ms by
// default.
func (s *Scene) GetDwell() time.Duration {
	return durationOr(s.Dwell, 800*time.Millisecond)
}

// GetResyncInterval returns the periodic full resend interval, 5s by
// default. An explicit "0s" disables it.
func (s *Scene) GetResyncInterval() time.Duration {
	return durationOr(s.ResyncInterval, 5*time.Second)
}

// GetZoneColor returns the idle zone outline color, white by default.
func (s *Scene) GetZoneColor() playfield.RGB {
	return colorOr(s.ZoneColor, playfield.White)
}

// GetZoneActiveColor returns the zone outline color while occupied, green
// by default.
func (s *Scene) GetZoneActiveColor() playfield.RGB {
	return colorOr(s.ZoneActiveColor, playfield.RGB{G: 255})
}

// GetPointerColor returns the color of projected fingertip markers, yellow
// by default.
func (s *Scene) GetPointerColor() playfield.RGB {
	return colorOr(s.PointerColor, playfield.RGB{R: 255, G: 255})
}

// GetSteps decodes the guide steps.
func (s *Scene) GetSteps() ([]playfield.Form, error) {
	out := make([]playfield.Form, 0, len(s.Steps))
	for i, raw := range s.Steps {
		f, err := codec.DecodeForm(raw)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if f == nil {
			return nil, fmt.Errorf("step %d: empty form", i)
		}
		out = append(out, f)
	}
	return out, nil
}
