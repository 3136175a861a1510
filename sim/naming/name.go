package naming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// A Name is a series of tokens separated by dots.
type Name struct {
	Tokens []Token
}

// Token is one element of a name, with its optional indices.
type Token struct {
	ElemName string
	Index    []int
}

// Parse splits a name into tokens. Indices are written in square brackets
// after the element name, as in "Rank[1]" or "Cell[2][3]".
func Parse(s string) (Name, error) {
	parts := strings.Split(s, ".")
	name := Name{Tokens: make([]Token, len(parts))}

	for i, p := range parts {
		t, err := parseToken(p)
		if err != nil {
			return Name{}, err
		}

		name.Tokens[i] = t
	}

	return name, nil
}

func parseToken(s string) (Token, error) {
	elem, rest, _ := strings.Cut(s, "[")
	t := Token{ElemName: elem}

	if rest == "" {
		if strings.Contains(s, "]") {
			return t, errors.New("unmatched bracket")
		}

		return t, nil
	}

	for _, idx := range strings.Split(rest, "[") {
		digits, ok := strings.CutSuffix(idx, "]")
		if !ok || strings.ContainsAny(digits, "[]") {
			return t, errors.New("unmatched bracket")
		}

		n, err := strconv.Atoi(digits)
		if err != nil {
			return t, fmt.Errorf("index %q is not an integer", digits)
		}

		t.Index = append(t.Index, n)
	}

	return t, nil
}

// Validate checks that the name follows the convention: dot-separated,
// non-empty elements that start with a capital letter and contain no
// underscores, dashes or quotes.
func Validate(s string) error {
	n, err := Parse(s)
	if err != nil {
		return fmt.Errorf("name %q: %w", s, err)
	}

	for _, t := range n.Tokens {
		if err := validateToken(t); err != nil {
			return fmt.Errorf("name %q: %w", s, err)
		}
	}

	return nil
}

func validateToken(t Token) error {
	if t.ElemName == "" {
		return errors.New("element must not be empty")
	}

	if strings.ContainsAny(t.ElemName, "_-\"'") {
		return fmt.Errorf("element %q contains a separator character",
			t.ElemName)
	}

	if t.ElemName[0] < 'A' || t.ElemName[0] > 'Z' {
		return fmt.Errorf("element %q must start with a capital letter",
			t.ElemName)
	}

	return nil
}

// MustBeValid panics if the name does not follow the convention.
func MustBeValid(s string) {
	if err := Validate(s); err != nil {
		panic(err)
	}
}

// BuildName joins a parent name and an element name.
func BuildName(parent, elem string) string {
	if parent == "" {
		return elem
	}

	return parent + "." + elem
}

// BuildNameWithIndex joins a parent name and an indexed element name.
func BuildNameWithIndex(parent, elem string, index ...int) string {
	name := BuildName(parent, elem)

	for _, i := range index {
		name += "[" + strconv.Itoa(i) + "]"
	}

	return name
}
