// Package filtergraph builds ffmpeg filter expressions for the three
// watermark operations. Builders are pure: they take resolved options and
// return strings, never touching the filesystem or the engine.
//
// Free text and file paths are escaped for every parsing level they cross:
// drawtext expansion, the option parser, then the graph parser. Position
// expressions and colors are opaque engine expressions; they pass through
// verbatim (commas aside) but are rejected when they carry characters that
// would end the current option, filter or graph link.
package filtergraph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Stream labels used by the image overlay graph.
const (
	LabelVideo   = "[0:v]"
	LabelOverlay = "[1:v]"
	LabelOutput  = "[v]"
)

// ErrUnsafeExpression is returned when an opaque expression contains
// filter-graph metacharacters.
var ErrUnsafeExpression = errors.New("expression contains forbidden characters")

// Rect is a pixel-space redaction region.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// TextOverlay describes a drawtext watermark.
type TextOverlay struct {
	Text           string `form:"text" validate:"required"`
	X              string `form:"x" validate:"required"`
	Y              string `form:"y" validate:"required"`
	FontSize       int    `form:"fontsize" validate:"min=1"`
	Color          string `form:"color" validate:"required"`
	Box            bool   `form:"box"`
	BoxColor       string `form:"boxcolor" validate:"required_if=Box true"`
	BoxBorderWidth int    `form:"boxborderw" validate:"min=0"`
	FontFile       string `form:"fontfile" validate:"required"`
}

// ImageOverlay describes an image watermark composited over the video.
type ImageOverlay struct {
	X string `form:"x" validate:"required"`
	Y string `form:"y" validate:"required"`
	// ScaleW and ScaleH are nil when the caller left them unset.
	// Negative values keep the aspect ratio, as the scale filter defines.
	ScaleW  *int    `form:"scale_w" validate:"omitempty,ne=0"`
	ScaleH  *int    `form:"scale_h" validate:"omitempty,ne=0"`
	Opacity float64 `form:"opacity" validate:"min=0,max=1"`
}

// Delogo builds the redaction filter for r with the debug border disabled.
func Delogo(r Rect) string {
	return fmt.Sprintf("delogo=x=%d:y=%d:w=%d:h=%d:show=0", r.X, r.Y, r.W, r.H)
}

// DrawText builds the drawtext filter for o. The box clause is omitted
// entirely when o.Box is false.
func DrawText(o TextOverlay) (string, error) {
	if err := checkPosition(o.X, o.Y); err != nil {
		return "", err
	}
	if err := checkColor("color", o.Color); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("drawtext=fontfile=")
	b.WriteString(EscapePath(o.FontFile))
	b.WriteString(":text=")
	b.WriteString(EscapeText(o.Text))
	fmt.Fprintf(&b, ":x=%s:y=%s:fontsize=%d:fontcolor=%s",
		escapeExpression(o.X), escapeExpression(o.Y), o.FontSize, o.Color)

	if o.Box {
		if err := checkColor("boxcolor", o.BoxColor); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, ":box=1:boxcolor=%s:boxborderw=%d", o.BoxColor, o.BoxBorderWidth)
	}
	return b.String(), nil
}

// Overlay builds the image overlay graph: optional scale, alpha multiply,
// then composite over the primary video. The result is labelled LabelOutput.
func Overlay(o ImageOverlay) (string, error) {
	if err := checkPosition(o.X, o.Y); err != nil {
		return "", err
	}

	source := LabelOverlay
	var b strings.Builder
	if o.ScaleW != nil || o.ScaleH != nil {
		fmt.Fprintf(&b, "%sscale=%s:%s[wm];", LabelOverlay, dimension(o.ScaleW), dimension(o.ScaleH))
		source = "[wm]"
	}
	fmt.Fprintf(&b, "%sformat=rgba,colorchannelmixer=aa=%s[wma];", source, formatAlpha(ClampOpacity(o.Opacity)))
	fmt.Fprintf(&b, "%s[wma]overlay=x=%s:y=%s%s",
		LabelVideo, escapeExpression(o.X), escapeExpression(o.Y), LabelOutput)
	return b.String(), nil
}

// ClampOpacity limits v to [0, 1].
func ClampOpacity(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// dimension renders a scale size, -1 keeping the aspect ratio.
func dimension(v *int) string {
	if v == nil {
		return "-1"
	}
	return strconv.Itoa(*v)
}

func formatAlpha(a float64) string {
	s := strconv.FormatFloat(a, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Special characters per escaping level, in the order they are applied.
const (
	// drawtext expands %{...} sequences in its text.
	textSpecial = "%"
	// the option parser splits key=value pairs on ':' and honors quotes.
	optionSpecial = "':"
	// the graph parser splits filters and links on these.
	graphSpecial = "'[],;"
)

// escape backslash-escapes the backslash itself and every rune in special.
func escape(s, special string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c == '\\' || strings.ContainsRune(special, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// EscapeText makes s render literally as drawtext text inside a filter graph.
func EscapeText(s string) string {
	return EscapePath(escape(s, textSpecial))
}

// EscapePath escapes an option value (such as a font path) for a filter graph.
func EscapePath(s string) string {
	return escape(escapeEdges(escape(s, optionSpecial)), graphSpecial)
}

// edgeSpace is the whitespace the option parser trims from both ends of an
// unescaped value.
const edgeSpace = " \n\t\r"

// escapeEdges backslash-escapes leading and trailing whitespace so the
// option parser keeps it.
func escapeEdges(s string) string {
	trimmed := strings.TrimLeft(s, edgeSpace)
	if trimmed == "" {
		return escapeAll(s)
	}
	lead := s[:len(s)-len(trimmed)]
	core := strings.TrimRight(trimmed, edgeSpace)
	trail := trimmed[len(core):]
	return escapeAll(lead) + core + escapeAll(trail)
}

func escapeAll(s string) string {
	var b strings.Builder
	for _, c := range s {
		b.WriteByte('\\')
		b.WriteRune(c)
	}
	return b.String()
}

// escapeExpression protects commas in function calls such as if(a,b,c)
// from the graph parser. Other metacharacters are rejected by checkExpression.
func escapeExpression(expr string) string {
	return strings.ReplaceAll(expr, ",", `\,`)
}

func checkPosition(x, y string) error {
	if err := checkExpression("x", x); err != nil {
		return err
	}
	return checkExpression("y", y)
}

func checkExpression(name, expr string) error {
	if expr == "" {
		return fmt.Errorf("%w: %s is empty", ErrUnsafeExpression, name)
	}
	if i := strings.IndexAny(expr, ";:[]'\"\\="); i >= 0 {
		return fmt.Errorf("%w: %s contains %q", ErrUnsafeExpression, name, expr[i])
	}
	return checkControl(name, expr)
}

// checkColor accepts engine color syntax such as "white@0.7" or "0xFF0000".
func checkColor(name, color string) error {
	if color == "" {
		return fmt.Errorf("%w: %s is empty", ErrUnsafeExpression, name)
	}
	if i := strings.IndexAny(color, ";[]'\"\\:,="); i >= 0 {
		return fmt.Errorf("%w: %s contains %q", ErrUnsafeExpression, name, color[i])
	}
	return checkControl(name, color)
}

func checkControl(name, s string) error {
	for _, c := range s {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: %s contains a control character", ErrUnsafeExpression, name)
		}
	}
	return nil
}
