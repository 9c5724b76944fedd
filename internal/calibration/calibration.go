// Package calibration loads and saves the four-point calibration files
// that tie camera, table and projector coordinates together.
//
// A calibration file maps a point index to a position:
//
//	{"0": {"x": 480, "y": 270}, "1": {"x": 1440, "y": 270}, ...}
//
// Points are ordered by numeric index.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"

	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/homography"
)

var ErrCalibration = errors.New("calibration: invalid calibration")

// PointCount is the number of points every calibration file holds.
const PointCount = 4

type filePoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// ParsePoints decodes a calibration file body.
func ParsePoints(data []byte) ([]geom.Point, error) {
	var raw map[string]filePoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibration, err)
	}
	idx := make([]int, 0, len(raw))
	byIdx := make(map[int]geom.Point, len(raw))
	for k, p := range raw {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: bad point index %q", ErrCalibration, k)
		}
		if p.X == nil || p.Y == nil {
			return nil, fmt.Errorf("%w: point %d needs x and y", ErrCalibration, i)
		}
		pt := geom.Pt(*p.X, *p.Y)
		if !pt.IsFinite() {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrCalibration, i)
		}
		idx = append(idx, i)
		byIdx[i] = pt
	}
	sort.Ints(idx)
	out := make([]geom.Point, len(idx))
	for j, i := range idx {
		out[j] = byIdx[i]
	}
	return out, nil
}

// LoadPoints reads a calibration file. It does not check the point count.
func LoadPoints(fsys fsutil.FileSystem, path string) ([]geom.Point, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCalibration, err)
	}
	pts, err := ParsePoints(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

// SavePoints writes pts as an indented calibration file.
func SavePoints(fsys fsutil.FileSystem, path string, pts []geom.Point) error {
	out := make(map[string]geom.Point, len(pts))
	for i, p := range pts {
		out[strconv.Itoa(i)] = p
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("calibration: encode %s: %w", path, err)
	}
	if err := fsys.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("calibration: write %s: %w", path, err)
	}
	log.Printf("[Calibration] Saved %d points to %s", len(pts), path)
	return nil
}

// LoadTransformer builds the transform from the plane of srcPath to the
// plane of dstPath. Both files must hold exactly four points.
func LoadTransformer(fsys fsutil.FileSystem, srcPath, dstPath string) (*homography.Transformer, error) {
	src, err := LoadPoints(fsys, srcPath)
	if err != nil {
		return nil, err
	}
	dst, err := LoadPoints(fsys, dstPath)
	if err != nil {
		return nil, err
	}
	log.Printf("[Calibration] Loaded %d source points from %s, %d target points from %s",
		len(src), srcPath, len(dst), dstPath)

	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: %s has %d points but %s has %d",
			ErrCalibration, srcPath, len(src), dstPath, len(dst))
	}
	if len(src) != PointCount {
		return nil, fmt.Errorf("%w: need exactly %d points, got %d", ErrCalibration, PointCount, len(src))
	}
	t, err := homography.New(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s: %w", ErrCalibration, srcPath, dstPath, err)
	}
	return t, nil
}

// DefaultPoints returns the starting points for a w x h plane: the corners
// of the centered half-size rectangle, ordered top-left, top-right,
// bottom-left, bottom-right.
func DefaultPoints(w, h int) []geom.Point {
	fw, fh := float64(w), float64(h)
	return []geom.Point{
		geom.Pt(fw/4, fh/4),
		geom.Pt(3*fw/4, fh/4),
		geom.Pt(fw/4, 3*fh/4),
		geom.Pt(3*fw/4, 3*fh/4),
	}
}

// Quality grades a transform's reprojection error in destination units.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// Reprojection error thresholds, in destination pixels.
const (
	RMSEThresholdExcellent = 0.5
	RMSEThresholdGood      = 2.0
	RMSEThresholdFair      = 5.0
)

// Assess grades the fit of t.
func Assess(t *homography.Transformer) (Quality, float64) {
	rmse := t.ReprojectionRMSE()
	switch {
	case math.IsNaN(rmse) || math.IsInf(rmse, 0):
		return QualityPoor, rmse
	case rmse < RMSEThresholdExcellent:
		return QualityExcellent, rmse
	case rmse < RMSEThresholdGood:
		return QualityGood, rmse
	case rmse < RMSEThresholdFair:
		return QualityFair, rmse
	default:
		return QualityPoor, rmse
	}
}
