package version

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// Code is an ordered version identifier such as "1.0" or "2.3.1".
// The zero value is an invalid code.
type Code struct {
	raw string
	v   *goversion.Version
}

// Parse parses s into a Code. Empty or malformed input yields an invalid
// Code rather than an error.
func Parse(s string) Code {
	s = strings.TrimSpace(s)
	c := Code{raw: s}
	if s == "" {
		return c
	}
	if v, err := goversion.NewVersion(s); err == nil {
		c.v = v
	}
	return c
}

// IsValid reports whether the code parsed successfully.
func (c Code) IsValid() bool {
	return c.v != nil
}

// String returns the text the code was parsed from.
func (c Code) String() string {
	return c.raw
}

// Compare returns -1, 0 or 1. Invalid codes sort before every valid code
// and are equal to each other.
func (c Code) Compare(o Code) int {
	switch {
	case c.v == nil && o.v == nil:
		return 0
	case c.v == nil:
		return -1
	case o.v == nil:
		return 1
	}
	return c.v.Compare(o.v)
}

// Equal reports whether both codes denote the same version.
func (c Code) Equal(o Code) bool {
	return c.Compare(o) == 0
}

// Less reports whether c orders before o.
func (c Code) Less(o Code) bool {
	return c.Compare(o) < 0
}

// UnmarshalYAML decodes a scalar into a Code. Malformed values decode to an
// invalid Code so that document validation can drop them later.
func (c *Code) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*c = Parse(s)
	return nil
}

// MarshalYAML encodes the code as its original text.
func (c Code) MarshalYAML() (interface{}, error) {
	return c.raw, nil
}
