// Package obis implements the fixed-width 6-byte OBIS identifier type
// used throughout the SML codec and response engine
// to name metrological and administrative data points.
package obis

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Code is a 6-byte OBIS identifier (A,B,C,D,E,F). Equality is bytewise.
type Code [6]byte

// Make constructs an OBIS code from its six groups.
func Make(a, b, c, d, e, f byte) Code {
	return Code{a, b, c, d, e, f}
}

// FromBytes builds a Code from a 6-byte slice, returning an error if the
// slice is the wrong length.
func FromBytes(b []byte) (Code, error) {
	var c Code
	if len(b) != 6 {
		return c, fmt.Errorf("obis: need 6 bytes, got %d", len(b))
	}
	copy(c[:], b)
	return c, nil
}

// FromHex decodes a 12-character hex string into a Code.
func FromHex(s string) (Code, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Code{}, fmt.Errorf("obis: %w", err)
	}
	return FromBytes(raw)
}

// ToHex renders the canonical 12-character hex form.
func (c Code) ToHex() string {
	return hex.EncodeToString(c[:])
}

// String renders the canonical "A-B:C.D.E*F" form used in logs and the NMS
// protocol.
func (c Code) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d*%d", c[0], c[1], c[2], c[3], c[4], c[5])
}

// Equal reports bytewise equality.
func (c Code) Equal(o Code) bool { return c == o }

// IsZero reports whether every group is zero (used to detect an empty/unset
// parameter name in an SML tree node).
func (c Code) IsZero() bool { return c == Code{} }

// IsPhysicalUnit classifies codes whose medium group (A) names a real
// metrological channel (1=electricity, 4=heat cost allocation, 5=cooling,
// 6=heat, 7=gas, 8 and 9=water).
func (c Code) IsPhysicalUnit() bool {
	switch c[0] {
	case 1, 4, 5, 6, 7, 8, 9:
		return true
	default:
		return false
	}
}

// IsAbstract classifies codes with medium group 0, used for abstract /
// administrative objects (clock, device id, ...).
func (c Code) IsAbstract() bool { return c[0] == 0 }

// IsPrivate classifies codes in the manufacturer-specific range (A=129/0x81),
// as used by the active/visible device and IP-T parameter subtrees.
func (c Code) IsPrivate() bool { return c[0] == 129 }

// Path is an ordered sequence of OBIS codes, e.g. a GetProcParameter.Req
// parameter tree address. An empty path is invalid for requests.
type Path []Code

// ErrEmptyPath is returned by operations that require a non-empty path;
// callers in the response engine map this to the UNKNOWN_OBIS_CODE
// attention.
var ErrEmptyPath = errors.New("obis: empty path")

// ParsePath parses a "/"-joined sequence of canonical or hex OBIS forms.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, ErrEmptyPath
	}
	parts := strings.Split(s, "/")
	path := make(Path, 0, len(parts))
	for _, p := range parts {
		c, err := ParseOne(p)
		if err != nil {
			return nil, err
		}
		path = append(path, c)
	}
	return path, nil
}

// ParseOne parses a single OBIS code in either canonical "A-B:C.D.E*F" or
// 12-character hex form.
func ParseOne(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if len(s) == 12 && !strings.ContainsAny(s, "-:.*") {
		return FromHex(s)
	}

	var c Code
	dash := strings.SplitN(s, "-", 2)
	if len(dash) != 2 {
		return c, fmt.Errorf("obis: malformed code %q", s)
	}
	a, err := strconv.Atoi(dash[0])
	if err != nil {
		return c, fmt.Errorf("obis: malformed code %q: %w", s, err)
	}

	colon := strings.SplitN(dash[1], ":", 2)
	if len(colon) != 2 {
		return c, fmt.Errorf("obis: malformed code %q", s)
	}
	b, err := strconv.Atoi(colon[0])
	if err != nil {
		return c, fmt.Errorf("obis: malformed code %q: %w", s, err)
	}

	star := strings.SplitN(colon[1], "*", 2)
	if len(star) != 2 {
		return c, fmt.Errorf("obis: malformed code %q", s)
	}
	f, err := strconv.Atoi(star[1])
	if err != nil {
		return c, fmt.Errorf("obis: malformed code %q: %w", s, err)
	}

	dots := strings.SplitN(star[0], ".", 3)
	if len(dots) != 3 {
		return c, fmt.Errorf("obis: malformed code %q", s)
	}
	cv, err := strconv.Atoi(dots[0])
	if err != nil {
		return c, fmt.Errorf("obis: malformed code %q: %w", s, err)
	}
	d, err := strconv.Atoi(dots[1])
	if err != nil {
		return c, fmt.Errorf("obis: malformed code %q: %w", s, err)
	}
	e, err := strconv.Atoi(dots[2])
	if err != nil {
		return c, fmt.Errorf("obis: malformed code %q: %w", s, err)
	}

	return Make(byte(a), byte(b), byte(cv), byte(d), byte(e), byte(f)), nil
}

// String renders a path back to its canonical "/"-joined form.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, "/")
}
