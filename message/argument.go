package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags an Argument as an inline integer or a text string.
type Kind byte

const (
	KindInteger Kind = 0 // 8-byte value stored inline in the parameter slots
	KindText    Kind = 1 // NUL-terminated bytes stored in the string pool
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "int"
	case KindText:
		return "str"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Argument is one positional call argument. Only the field matching Kind is used.
type Argument struct {
	Kind    Kind
	Integer uint64
	Text    string
}

// Integer builds an integer argument.
func Integer(v uint64) Argument {
	return Argument{Kind: KindInteger, Integer: v}
}

// Text builds a text argument. The payload must not contain NUL bytes.
func Text(s string) Argument {
	return Argument{Kind: KindText, Text: s}
}

func (a Argument) String() string {
	if a.Kind == KindText {
		return strconv.Quote(a.Text)
	}
	return fmt.Sprintf("0x%X", a.Integer)
}

// Align8 returns the smallest multiple of 8 that is >= n.
func Align8(n int) int {
	return (n + 7) &^ 7
}

// SizeOf returns the number of buffer bytes an argument occupies.
// Integers take one 8-byte slot. Text takes its length plus a terminating zero,
// rounded up to 8, so a string whose length is already a multiple of 8 still
// gets a whole extra zero block.
func SizeOf(a Argument) int {
	if a.Kind == KindText {
		return Align8(len(a.Text) + 1)
	}
	return 8
}

// HasString reports whether any argument is text.
func HasString(args []Argument) bool {
	for _, a := range args {
		if a.Kind == KindText {
			return true
		}
	}
	return false
}

// ParseArgument parses the command-line form of an argument.
//
//	int:<n>    integer, decimal or 0x-prefixed hex
//	str:<s>    text, taken verbatim
//	<n>        bare decimal or 0x hex is an integer
//	anything else is text
func ParseArgument(s string) (Argument, error) {
	switch {
	case strings.HasPrefix(s, "int:"):
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "int:"), 0, 64)
		if err != nil {
			return Argument{}, fmt.Errorf("invalid integer argument %q: %w", s, err)
		}
		return Integer(v), nil
	case strings.HasPrefix(s, "str:"):
		return Text(strings.TrimPrefix(s, "str:")), nil
	}

	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return Integer(v), nil
	}
	return Text(s), nil
}
