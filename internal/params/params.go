// Package params resolves caller-supplied overrides into fully populated,
// validated option structs for the filter-graph builders.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/wmstudio/internal/filtergraph"
)

// ErrBadRequest marks input the caller must fix. Every resolver error wraps it.
var ErrBadRequest = errors.New("bad request")

// Default values for the redaction rectangle and overlays.
var DefaultRect = filtergraph.Rect{X: 1600, Y: 900, W: 320, H: 180}

const (
	DefaultTextX          = "w-tw-20"
	DefaultTextY          = "h-th-20"
	DefaultFontSize       = 36
	DefaultColor          = "white@0.7"
	DefaultBox            = true
	DefaultBoxColor       = "black@0.4"
	DefaultBoxBorderWidth = 10

	DefaultImageX  = "W-w-20"
	DefaultImageY  = "H-h-20"
	DefaultOpacity = 0.8
)

// invalidParamsMessage is the fixed message for malformed rectangle JSON.
const invalidParamsMessage = "invalid JSON in params"

// Form is the read side of a submitted form: one value per field name,
// with ok reporting whether the caller sent the field at all.
type Form interface {
	Value(name string) (value string, ok bool)
}

// MapForm adapts a plain map to Form.
type MapForm map[string]string

// Value implements Form.
func (m MapForm) Value(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Resolver merges overrides with defaults and validates the result.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	v := validator.New()
	// Report failures under the form field name the caller used.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("form"); name != "" {
			return name
		}
		return strings.ToLower(fld.Name)
	})
	return &Resolver{validate: v}
}

// Rect resolves the redaction rectangle from optional JSON text.
// Known numeric keys override the defaults (truncated toward zero);
// unknown keys and non-numeric values are ignored. Malformed JSON, or JSON
// that is not an object, fails without applying anything.
func (r *Resolver) Rect(raw string) (filtergraph.Rect, error) {
	rect := DefaultRect
	if strings.TrimSpace(raw) == "" {
		return rect, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return DefaultRect, fmt.Errorf("%w: %s", ErrBadRequest, invalidParamsMessage)
	}
	// Anything after the object, including a stray '}' or ']', is malformed.
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return DefaultRect, fmt.Errorf("%w: %s", ErrBadRequest, invalidParamsMessage)
	}

	targets := map[string]*int{"x": &rect.X, "y": &rect.Y, "w": &rect.W, "h": &rect.H}
	for key, dst := range targets {
		num, ok := fields[key].(json.Number)
		if !ok {
			continue
		}
		v, ok := truncate(num)
		if !ok {
			continue
		}
		*dst = v
	}
	return rect, nil
}

// TextOverlay resolves the drawtext options from discrete form fields.
// fontFallback is consulted when the form names no font file.
func (r *Resolver) TextOverlay(form Form, fontFallback string) (filtergraph.TextOverlay, error) {
	text, _ := form.Value("text")
	o := filtergraph.TextOverlay{
		Text:     text,
		X:        stringField(form, "x", DefaultTextX),
		Y:        stringField(form, "y", DefaultTextY),
		Color:    stringField(form, "color", DefaultColor),
		BoxColor: stringField(form, "boxcolor", DefaultBoxColor),
		FontFile: stringField(form, "fontfile", fontFallback),
	}

	var err error
	if o.FontSize, err = intField(form, "fontsize", DefaultFontSize); err != nil {
		return o, err
	}
	if o.Box, err = boolField(form, "box", DefaultBox); err != nil {
		return o, err
	}
	if o.BoxBorderWidth, err = intField(form, "boxborderw", DefaultBoxBorderWidth); err != nil {
		return o, err
	}

	if err := r.check(o); err != nil {
		return o, err
	}
	return o, nil
}

// ImageOverlay resolves the overlay options from discrete form fields.
// Opacity is clamped into [0, 1] rather than rejected.
func (r *Resolver) ImageOverlay(form Form) (filtergraph.ImageOverlay, error) {
	o := filtergraph.ImageOverlay{
		X: stringField(form, "x", DefaultImageX),
		Y: stringField(form, "y", DefaultImageY),
	}

	// Negative sizes are the scale filter's keep-aspect forms (-1, -2, ...).
	var err error
	if o.ScaleW, err = optionalIntField(form, "scale_w"); err != nil {
		return o, err
	}
	if o.ScaleH, err = optionalIntField(form, "scale_h"); err != nil {
		return o, err
	}

	opacity := DefaultOpacity
	if v, ok := nonEmpty(form, "opacity"); ok {
		opacity, err = strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(opacity) {
			return o, fieldError("opacity", "a number", v)
		}
	}
	o.Opacity = filtergraph.ClampOpacity(opacity)

	if err := r.check(o); err != nil {
		return o, err
	}
	return o, nil
}

// check runs struct validation and reports the first failing field.
func (r *Resolver) check(v any) error {
	err := r.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q validation", ErrBadRequest, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

// truncate converts a JSON number to int, truncating toward zero.
func truncate(n json.Number) (int, bool) {
	if i, err := n.Int64(); err == nil {
		if i > math.MaxInt32 || i < math.MinInt32 {
			return 0, false
		}
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func nonEmpty(form Form, name string) (string, bool) {
	v, ok := form.Value(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func stringField(form Form, name, def string) string {
	if v, ok := nonEmpty(form, name); ok {
		return v
	}
	return def
}

func intField(form Form, name string, def int) (int, error) {
	v, ok := nonEmpty(form, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fieldError(name, "an integer", v)
	}
	return n, nil
}

// optionalIntField returns nil for an absent, empty, or zero value.
func optionalIntField(form Form, name string) (*int, error) {
	n, err := intField(form, name, 0)
	if err != nil || n == 0 {
		return nil, err
	}
	return &n, nil
}

func boolField(form Form, name string, def bool) (bool, error) {
	v, ok := nonEmpty(form, name)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fieldError(name, "a boolean", v)
}

func fieldError(name, want, got string) error {
	return fmt.Errorf("%w: field %s must be %s, got %q", ErrBadRequest, name, want, got)
}
