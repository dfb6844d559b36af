package watermark

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// Declaration is one CSS property/value pair.
type Declaration struct {
	Property string
	Value    string
}

// Style is an ordered list of CSS declarations. Its String form is stable,
// which makes it usable as a last-known-good attribute value.
type Style []Declaration

// OverlayStyle is the style of the watermark layer before the tile is added.
func OverlayStyle() Style {
	return Style{
		{"position", "absolute"},
		{"left", "0"},
		{"right", "0"},
		{"top", "0"},
		{"bottom", "0"},
		{"opacity", "0.7"},
		{"z-index", "9999"},
		{"pointer-events", "none"},
		{"overflow", "hidden"},
		{"background-color", "transparent"},
		{"background-repeat", "repeat"},
	}
}

// WrapperStyle returns the caller's style with the positioning the overlay
// relies on forced on top.
func WrapperStyle(user Style) Style {
	return user.Set("position", "relative").Set("overflow", "hidden")
}

// WatermarkStyle returns the overlay style carrying p as its background.
func WatermarkStyle(p Pattern) Style {
	return OverlayStyle().Set("background-image", p.CSS())
}

// ParseStyle parses an inline style attribute. Later duplicates win and
// malformed declarations are skipped.
func ParseStyle(s string) Style {
	var (
		out   Style
		prop  string
		val   strings.Builder
		inVal bool
		skip  bool
		depth int
	)
	end := func() {
		if prop != "" && inVal && !skip {
			if v := strings.TrimSpace(val.String()); v != "" {
				out = out.Set(prop, v)
			}
		}
		prop, inVal, skip, depth = "", false, false, 0
		val.Reset()
	}

	sc := scanner.New(s)
	for {
		tok := sc.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			end()
			return out
		case scanner.TokenComment:
			continue
		}
		if tok.Type == scanner.TokenChar && tok.Value == ";" && depth == 0 {
			end()
			continue
		}

		switch {
		case skip:
		case !inVal:
			switch {
			case tok.Type == scanner.TokenS:
			case tok.Type == scanner.TokenIdent && prop == "":
				prop = strings.ToLower(tok.Value)
			case tok.Type == scanner.TokenChar && tok.Value == ":" && prop != "":
				inVal = true
			default:
				skip = true
			}
		default:
			switch {
			case tok.Type == scanner.TokenS:
				val.WriteByte(' ')
				continue
			case tok.Type == scanner.TokenFunction:
				depth++
			case tok.Type == scanner.TokenChar && tok.Value == ")" && depth > 0:
				depth--
			}
			val.WriteString(tok.Value)
		}
	}
}

// Get returns the value of prop.
func (s Style) Get(prop string) (string, bool) {
	for _, d := range s {
		if d.Property == prop {
			return d.Value, true
		}
	}
	return "", false
}

// Set returns a copy of s with prop set to value, keeping its position if it
// was already present.
func (s Style) Set(prop, value string) Style {
	out := make(Style, len(s), len(s)+1)
	copy(out, s)
	for i := range out {
		if out[i].Property == prop {
			out[i].Value = value
			return out
		}
	}
	return append(out, Declaration{Property: prop, Value: value})
}

// String renders the style as an inline attribute value.
func (s Style) String() string {
	var b strings.Builder
	for _, d := range s {
		b.WriteString(d.Property)
		b.WriteByte(':')
		b.WriteString(d.Value)
		b.WriteByte(';')
	}
	return b.String()
}
