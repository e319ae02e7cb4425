// Package path implements the normalized broadcast-path algebra: an opaque
// relative string with leading/trailing/duplicate "/" collapsed, and
// boundary-sensitive prefix operations. Modeled on the flat, comparable
// key type the teacher pack uses to address a stream (bus.StreamKey), but
// generalized to an arbitrary-depth hierarchical path instead of a fixed
// app/name pair.
package path

import "strings"

// Path is a normalized, relative broadcast path. The zero value is the
// empty path. Paths are comparable and safe to use as map keys.
type Path string

// Empty returns the empty path.
func Empty() Path {
	return ""
}

// From normalizes a raw string into a Path: leading, trailing, and
// duplicate "/" separators are collapsed. From is idempotent:
// From(string(From(s))) == From(s).
func From(raw string) Path {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		kept = append(kept, p)
	}
	return Path(strings.Join(kept, "/"))
}

// String returns the normalized path as a string.
func (p Path) String() string {
	return string(p)
}

// IsEmpty reports whether p is the empty path.
func (p Path) IsEmpty() bool {
	return p == ""
}

// HasPrefix reports whether q has p as a boundary-sensitive prefix: every
// path has the empty path as a prefix, and "foo" is a prefix of "foo/bar"
// but not of "foobar".
func HasPrefix(p, q Path) bool {
	if p == "" {
		return true
	}
	ps, qs := string(p), string(q)
	if !strings.HasPrefix(qs, ps) {
		return false
	}
	return len(qs) == len(ps) || qs[len(ps)] == '/'
}

// StripPrefix returns the suffix of q after removing the prefix p and its
// following "/" (if any), ok is false if p is not a prefix of q. Stripping
// an exact match yields the empty path.
func StripPrefix(p, q Path) (suffix Path, ok bool) {
	if !HasPrefix(p, q) {
		return "", false
	}
	if p == "" {
		return q, true
	}
	rest := string(q)[len(string(p)):]
	rest = strings.TrimPrefix(rest, "/")
	return Path(rest), true
}

// Join concatenates a and b with exactly one "/" between them, unless
// either is empty, in which case the other is returned unchanged.
func Join(a, b Path) Path {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return Path(string(a) + "/" + string(b))
}
