// Package codec converts playfields and forms to and from JSON.
//
// Two shapes share one form encoding. A snapshot carries a whole
// playfield:
//
//	{"width":1920,"height":1080,"forms":{"3":{"type":"Circle",...},"4":null}}
//
// A patch carries one id and is what the channel publishes per change:
//
//	{"id":3,"type":"circle","color":[255,255,255],"center":{"x":1,"y":2},"radius":5,"fill":false}
//	{"id":4}
//
// A patch without a type deletes its id.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
)

var (
	ErrUnknownFormType  = errors.New("codec: unknown form type")
	ErrMalformedPayload = errors.New("codec: malformed payload")
)

type pointJSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type formJSON struct {
	ID       *int        `json:"id,omitempty"`
	Type     string      `json:"type,omitempty"`
	Color    []int       `json:"color,omitempty"`
	Center   *pointJSON  `json:"center,omitempty"`
	Radius   *float64    `json:"radius,omitempty"`
	Fill     *bool       `json:"fill,omitempty"`
	Points   []pointJSON `json:"points,omitempty"`
	Position *pointJSON  `json:"position,omitempty"`
	Text     *string     `json:"text,omitempty"`
	Size     *int        `json:"size,omitempty"`
}

type playfieldJSON struct {
	Width  *int                       `json:"width"`
	Height *int                       `json:"height"`
	Forms  map[string]json.RawMessage `json:"forms"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

func toPointJSON(p geom.Point) *pointJSON {
	x, y := p.X, p.Y
	return &pointJSON{X: &x, Y: &y}
}

func (p *pointJSON) point(field string) (geom.Point, error) {
	if p == nil {
		return geom.Point{}, malformed("missing %s", field)
	}
	if p.X == nil || p.Y == nil {
		return geom.Point{}, malformed("%s needs x and y", field)
	}
	return geom.Point{X: *p.X, Y: *p.Y}, nil
}

func colorJSON(c playfield.RGB) []int {
	return []int{int(c.R), int(c.G), int(c.B)}
}

func parseColor(c []int) (playfield.RGB, error) {
	if c == nil {
		return playfield.White, nil
	}
	if len(c) != 3 {
		return playfield.RGB{}, malformed("color needs 3 components, got %d", len(c))
	}
	for _, v := range c {
		if v < 0 || v > 255 {
			return playfield.RGB{}, malformed("color component %d out of range", v)
		}
	}
	return playfield.RGB{R: uint8(c[0]), G: uint8(c[1]), B: uint8(c[2])}, nil
}

// toJSON fills the variant fields of f. lower selects the patch tag casing.
func toJSON(f playfield.Form, lower bool) (formJSON, error) {
	var out formJSON
	switch v := f.(type) {
	case playfield.Circle:
		if v.Radius < 0 {
			return out, malformed("negative radius %g", v.Radius)
		}
		out.Center = toPointJSON(v.Center)
		r, fill := v.Radius, v.Filled
		out.Radius, out.Fill = &r, &fill
	case playfield.Polygon:
		if len(v.Points) == 0 {
			return out, malformed("polygon has no points")
		}
		out.Points = make([]pointJSON, len(v.Points))
		for i, p := range v.Points {
			out.Points[i] = *toPointJSON(p)
		}
	case playfield.Text:
		if v.Size <= 0 {
			return out, malformed("non-positive text size %d", v.Size)
		}
		out.Position = toPointJSON(v.Position)
		text, size := v.Text, v.Size
		out.Text, out.Size = &text, &size
	default:
		return out, fmt.Errorf("%w: %T", ErrUnknownFormType, f)
	}
	out.Type = string(f.Kind())
	if lower {
		out.Type = strings.ToLower(out.Type)
	}
	out.Color = colorJSON(f.FormColor())
	return out, nil
}

func fromJSON(in formJSON) (playfield.Form, error) {
	color, err := parseColor(in.Color)
	if err != nil {
		return nil, err
	}
	var kind playfield.Kind
	for _, k := range []playfield.Kind{playfield.KindCircle, playfield.KindPolygon, playfield.KindText} {
		if strings.EqualFold(in.Type, string(k)) {
			kind = k
		}
	}
	switch kind {
	case playfield.KindCircle:
		center, err := in.Center.point("center")
		if err != nil {
			return nil, err
		}
		if in.Radius == nil {
			return nil, malformed("circle missing radius")
		}
		if *in.Radius < 0 {
			return nil, malformed("negative radius %g", *in.Radius)
		}
		c := playfield.Circle{Color: color, Center: center, Radius: *in.Radius}
		if in.Fill != nil {
			c.Filled = *in.Fill
		}
		return c, nil
	case playfield.KindPolygon:
		if len(in.Points) == 0 {
			return nil, malformed("polygon needs at least one point")
		}
		pts := make([]geom.Point, len(in.Points))
		for i := range in.Points {
			p, err := in.Points[i].point(fmt.Sprintf("points[%d]", i))
			if err != nil {
				return nil, err
			}
			pts[i] = p
		}
		return playfield.Polygon{Color: color, Points: pts}, nil
	case playfield.KindText:
		pos, err := in.Position.point("position")
		if err != nil {
			return nil, err
		}
		if in.Text == nil {
			return nil, malformed("text missing text")
		}
		t := playfield.Text{Color: color, Position: pos, Text: *in.Text, Size: playfield.DefaultTextSize}
		if in.Size != nil {
			if *in.Size <= 0 {
				return nil, malformed("non-positive text size %d", *in.Size)
			}
			t.Size = *in.Size
		}
		return t, nil
	}
	if in.Type == "" {
		return nil, malformed("missing type")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormType, in.Type)
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return malformed("trailing data")
	}
	return nil
}

// EncodeForm encodes f in snapshot form, with a capitalized type tag.
func EncodeForm(f playfield.Form) ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	out, err := toJSON(f, false)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", f.Kind(), err)
	}
	return b, nil
}

// DecodeForm decodes a single form. JSON null yields a nil form.
func DecodeForm(data []byte) (playfield.Form, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	var in formJSON
	if err := unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.ID != nil {
		return nil, malformed("unexpected id in form")
	}
	return fromJSON(in)
}

// EncodePlayfield encodes a full snapshot, tombstones as null.
func EncodePlayfield(p *playfield.Playfield) ([]byte, error) {
	w, h := p.Width(), p.Height()
	out := playfieldJSON{Width: &w, Height: &h, Forms: make(map[string]json.RawMessage)}
	for id, f := range p.Forms() {
		b, err := EncodeForm(f)
		if err != nil {
			return nil, fmt.Errorf("form %d: %w", id, err)
		}
		out.Forms[strconv.Itoa(id)] = b
	}
	return json.Marshal(out)
}

// DecodePlayfield decodes a full snapshot.
func DecodePlayfield(data []byte) (*playfield.Playfield, error) {
	var in playfieldJSON
	if err := unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.Width == nil || in.Height == nil {
		return nil, malformed("snapshot needs width and height")
	}
	if in.Forms == nil {
		return nil, malformed("snapshot needs forms")
	}
	p, err := playfield.New(*in.Width, *in.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	for key, raw := range in.Forms {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, malformed("bad form id %q", key)
		}
		f, err := DecodeForm(raw)
		if err != nil {
			return nil, fmt.Errorf("form %d: %w", id, err)
		}
		p.Put(id, f)
	}
	return p, nil
}

// EncodePatch encodes one id's new value. A nil form encodes a deletion.
func EncodePatch(id int, f playfield.Form) ([]byte, error) {
	var out formJSON
	if f != nil {
		var err error
		if out, err = toJSON(f, true); err != nil {
			return nil, fmt.Errorf("form %d: %w", id, err)
		}
	}
	out.ID = &id
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("codec: encode patch %d: %w", id, err)
	}
	return b, nil
}

// DecodePatch decodes a patch. The returned form is nil for a deletion.
func DecodePatch(data []byte) (int, playfield.Form, error) {
	var in formJSON
	if err := unmarshal(data, &in); err != nil {
		return 0, nil, err
	}
	return patchFrom(in)
}

func patchFrom(in formJSON) (int, playfield.Form, error) {
	if in.ID == nil {
		return 0, nil, malformed("patch missing id")
	}
	id := *in.ID
	if in.Type == "" {
		if in.Color != nil || in.Center != nil || in.Points != nil || in.Position != nil || in.Text != nil ||
			in.Radius != nil || in.Fill != nil || in.Size != nil {
			return 0, nil, malformed("patch %d has fields but no type", id)
		}
		return id, nil, nil
	}
	in.ID = nil
	f, err := fromJSON(in)
	if err != nil {
		return 0, nil, fmt.Errorf("patch %d: %w", id, err)
	}
	return id, f, nil
}

// MessageKind distinguishes the two payload shapes.
type MessageKind int

const (
	KindPatch MessageKind = iota + 1
	KindSnapshot
)

func (k MessageKind) String() string {
	switch k {
	case KindPatch:
		return "patch"
	case KindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Message is a decoded payload of either kind.
type Message struct {
	Kind      MessageKind
	ID        int
	Form      playfield.Form
	Playfield *playfield.Playfield
}

// DecodeMessage decodes a payload carrying either a snapshot ("forms" key)
// or a patch ("id" key).
func DecodeMessage(data []byte) (Message, error) {
	var probe map[string]json.RawMessage
	if err := unmarshal(data, &probe); err != nil {
		return Message{}, err
	}
	if _, ok := probe["forms"]; ok {
		p, err := DecodePlayfield(data)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindSnapshot, Playfield: p}, nil
	}
	if _, ok := probe["id"]; ok {
		id, f, err := DecodePatch(data)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindPatch, ID: id, Form: f}, nil
	}
	return Message{}, malformed("payload is neither a patch nor a snapshot")
}
