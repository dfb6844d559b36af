package watermark

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestMergePrecedence(t *testing.T) {
	fileWidth, flagWidth := 200, 300
	zero := 0.0
	color := "red"

	fromFile := Merge(DefaultOptions(), Partial{Width: &fileWidth, FontColor: &color})
	got := Merge(fromFile, Partial{Width: &flagWidth, Opacity: &zero})

	if got.Width != 300 {
		t.Fatalf("width = %d, want flag value 300", got.Width)
	}
	if got.FontColor != "red" {
		t.Fatalf("font color = %q, want file value", got.FontColor)
	}
	if got.Opacity != 0 {
		t.Fatalf("explicit zero opacity was not applied")
	}
	if got.Height != DefaultOptions().Height {
		t.Fatalf("unset height changed: %d", got.Height)
	}
}

func TestPartialOverridesEveryField(t *testing.T) {
	want := Options{Width: 10, Height: 20, Rotate: 45, Opacity: 1, FontColor: "red",
		FontWeight: "bold", FontFamily: "monospace", FontSize: 12}
	if got := Merge(DefaultOptions(), want.Partial()); got != want {
		t.Fatalf("Merge with Partial() = %+v, want %+v", got, want)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidateRejectsNaN(t *testing.T) {
	opts := DefaultOptions()
	opts.Opacity = math.NaN()
	var cerr *ConfigError
	if err := opts.Validate(); !errors.As(err, &cerr) || cerr.Field != "opacity" {
		t.Fatalf("NaN opacity: got %v", err)
	}

	opts = DefaultOptions()
	opts.Rotate = math.Inf(1)
	if err := opts.Validate(); !errors.As(err, &cerr) || cerr.Field != "rotate" {
		t.Fatalf("infinite rotate: got %v", err)
	}
}

func TestParseColor(t *testing.T) {
	cases := []struct {
		in      string
		r, g, b float64
		a       float64
		wantErr bool
	}{
		{in: "#727071", r: 0x72 / 255.0, g: 0x70 / 255.0, b: 0x71 / 255.0, a: 1},
		{in: "#fff", r: 1, g: 1, b: 1, a: 1},
		{in: "black", a: 1},
		{in: "rgba(255, 0, 0, 0.5)", r: 1, a: 0.5},
		{in: "rgb(0,128,0)", g: 128 / 255.0, a: 1},
		{in: "transparent"},
		{in: "#12", wantErr: true},
		{in: "rgb(1,2)", wantErr: true},
		{in: "chartreuse-ish", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseColor(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseColor(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseColor(%q) error: %v", tc.in, err)
		}
		if !near(got.R, tc.r) || !near(got.G, tc.g) || !near(got.B, tc.b) || !near(got.A, tc.a) {
			t.Fatalf("parseColor(%q) = %+v", tc.in, got)
		}
	}
}

func TestParseWeight(t *testing.T) {
	cases := map[string]int{
		"normal":  400,
		"bold":    700,
		"lighter": 400,
		"600":     600,
	}
	for in, want := range cases {
		got, err := parseWeight(in)
		if err != nil || got != want {
			t.Fatalf("parseWeight(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, bad := range []string{"heavy", "0", "1200", "bold-ish"} {
		if _, err := parseWeight(bad); err == nil {
			t.Fatalf("parseWeight(%q) expected error", bad)
		}
	}
}

func TestStyleStringIsStable(t *testing.T) {
	s := OverlayStyle().Set("background-image", `url("data:image/png;base64,AAA=")`)
	want := "position:absolute;left:0;right:0;top:0;bottom:0;opacity:0.7;z-index:9999;" +
		"pointer-events:none;overflow:hidden;background-color:transparent;background-repeat:repeat;" +
		`background-image:url("data:image/png;base64,AAA=");`
	if got := s.String(); got != want {
		t.Fatalf("style = %q\nwant    %q", got, want)
	}
}

func TestParseStyleKeepsDataURIs(t *testing.T) {
	in := `color: red; background-image: url("data:image/png;base64,AA;BB"); COLOR: blue`
	s := ParseStyle(in)
	if v, _ := s.Get("color"); v != "blue" {
		t.Fatalf("color = %q, want blue", v)
	}
	if v, _ := s.Get("background-image"); !strings.Contains(v, "AA;BB") {
		t.Fatalf("background-image split inside url(): %q", v)
	}
	if len(s) != 2 {
		t.Fatalf("declarations = %d, want 2", len(s))
	}
}

func TestParseStyleSkipsMalformedDeclarations(t *testing.T) {
	in := `/* tamper */ color: rgb(1, 2, 3); : nothing; 42px: bad; opacity :0.5;margin:0 -4px`
	s := ParseStyle(in)
	want := "color:rgb(1, 2, 3);opacity:0.5;margin:0 -4px;"
	if got := s.String(); got != want {
		t.Fatalf("style = %q, want %q", got, want)
	}
}

func TestWrapperStyleForcesPositioning(t *testing.T) {
	user := ParseStyle("position:fixed;margin:4px")
	got := WrapperStyle(user).String()
	if got != "position:relative;margin:4px;overflow:hidden;" {
		t.Fatalf("wrapper style = %q", got)
	}
	if v, _ := user.Get("position"); v != "fixed" {
		t.Fatalf("WrapperStyle mutated the caller's style")
	}
}

func TestNewIdentityPrefixes(t *testing.T) {
	id := NewIdentity(nil)
	if !strings.HasPrefix(id.WrapperID, "watermark-wrapper-") || !strings.HasPrefix(id.WatermarkID, "watermark-") {
		t.Fatalf("unexpected identity %+v", id)
	}
	if NewIdentity(nil) == id {
		t.Fatalf("identities repeat across mounts")
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }
