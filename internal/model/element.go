package model

import (
	"encoding/json"
	"fmt"
)

// ElementKind 도형 종류
type ElementKind string

const (
	KindBrush     ElementKind = "BRUSH"
	KindLine      ElementKind = "LINE"
	KindRectangle ElementKind = "RECTANGLE"
	KindCircle    ElementKind = "CIRCLE"
	KindArrow     ElementKind = "ARROW"
	KindText      ElementKind = "TEXT"
)

func (k ElementKind) String() string {
	return string(k)
}

// Point 좌표
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is the kind-specific geometry of an Element. Exactly one of
// Segment, Freehand or Label.
type Shape interface {
	isShape()
}

// Segment holds the two corner points of a line, rectangle, ellipse or arrow.
type Segment struct {
	X1, Y1, X2, Y2 float64
}

// Freehand holds the sampled points of a brush stroke.
type Freehand struct {
	Points []Point
}

// Label is a text element anchored at a single point.
type Label struct {
	X, Y float64
	Text string
}

func (Segment) isShape()  {}
func (Freehand) isShape() {}
func (Label) isShape()    {}

// Element 캔버스 위의 도형 하나 (삽입 순서 = z-order)
type Element struct {
	ID     int64
	Kind   ElementKind
	Stroke string
	Fill   string
	Size   float64
	Shape  Shape
}

// elementWire 클라이언트와 주고받는 평탄한 JSON 형태
type elementWire struct {
	ID     int64       `json:"id"`
	Type   ElementKind `json:"type"`
	Stroke string      `json:"stroke,omitempty"`
	Fill   string      `json:"fill,omitempty"`
	Size   float64     `json:"size,omitempty"`
	X1     *float64    `json:"x1,omitempty"`
	Y1     *float64    `json:"y1,omitempty"`
	X2     *float64    `json:"x2,omitempty"`
	Y2     *float64    `json:"y2,omitempty"`
	Points []Point     `json:"points,omitempty"`
	Text   *string     `json:"text,omitempty"`
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// MarshalJSON flattens the shape back into the client wire format.
func (e Element) MarshalJSON() ([]byte, error) {
	w := elementWire{
		ID:     e.ID,
		Type:   e.Kind,
		Stroke: e.Stroke,
		Fill:   e.Fill,
		Size:   e.Size,
	}

	switch s := e.Shape.(type) {
	case Segment:
		w.X1, w.Y1, w.X2, w.Y2 = &s.X1, &s.Y1, &s.X2, &s.Y2
	case Freehand:
		w.Points = s.Points
		if w.Points == nil {
			w.Points = []Point{}
		}
	case Label:
		text := s.Text
		w.X1, w.Y1, w.Text = &s.X, &s.Y, &text
	default:
		return nil, fmt.Errorf("%w: element %d has no shape", ErrInvalidPayload, e.ID)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the client wire format, picking the shape variant
// from the element kind. Unknown kinds are rejected.
func (e *Element) UnmarshalJSON(data []byte) error {
	var w elementWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	el := Element{
		ID:     w.ID,
		Kind:   w.Type,
		Stroke: w.Stroke,
		Fill:   w.Fill,
		Size:   w.Size,
	}

	switch w.Type {
	case KindLine, KindRectangle, KindCircle, KindArrow:
		el.Shape = Segment{X1: deref(w.X1), Y1: deref(w.Y1), X2: deref(w.X2), Y2: deref(w.Y2)}
	case KindBrush:
		if len(w.Points) == 0 {
			return fmt.Errorf("%w: brush element %d has no points", ErrInvalidPayload, w.ID)
		}
		el.Shape = Freehand{Points: w.Points}
	case KindText:
		text := ""
		if w.Text != nil {
			text = *w.Text
		}
		el.Shape = Label{X: deref(w.X1), Y: deref(w.Y1), Text: text}
	default:
		return fmt.Errorf("%w: unknown element type %q", ErrInvalidPayload, w.Type)
	}

	*e = el
	return nil
}

// DecodeElements 요소 배열 디코딩 (null -> 빈 배열)
func DecodeElements(data []byte) ([]Element, error) {
	elements := make([]Element, 0)
	if len(data) == 0 || string(data) == "null" {
		return elements, nil
	}
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// DuplicateIDs returns element ids that appear more than once, in first-seen order.
func DuplicateIDs(elements []Element) []int64 {
	seen := make(map[int64]int, len(elements))
	var dups []int64
	for _, el := range elements {
		seen[el.ID]++
		if seen[el.ID] == 2 {
			dups = append(dups, el.ID)
		}
	}
	return dups
}
