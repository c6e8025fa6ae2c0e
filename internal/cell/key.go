package cell

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key identifies a single cell within a table, e.g. "A1" or "AB12".
//
// A Key decomposes into a 1-based column and row for range math. Keys are
// compared as plain strings; use Normalize before comparing user input.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Address is the decomposed form of a Key.
type Address struct {
	Column int // 1-based; A=1, Z=26, AA=27
	Row    int // 1-based
}

// Key re-encodes the address.
func (a Address) Key() Key {
	return FormatKey(a.Column, a.Row)
}

// ParseKey decomposes a key into its column and row.
// Absolute markers ($A$1) are ignored and column letters are case-insensitive.
func ParseKey(key string) (Address, error) {
	s := strings.ReplaceAll(strings.TrimSpace(key), "$", "")
	if s == "" {
		return Address{}, fmt.Errorf("empty cell key")
	}

	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	if i == 0 || i == len(s) {
		return Address{}, fmt.Errorf("invalid cell key %q", key)
	}

	col, err := ColumnIndex(s[:i])
	if err != nil {
		return Address{}, fmt.Errorf("invalid cell key %q: %w", key, err)
	}

	row, err := strconv.Atoi(s[i:])
	if err != nil || row < 1 {
		return Address{}, fmt.Errorf("invalid cell key %q: bad row", key)
	}

	return Address{Column: col, Row: row}, nil
}

// IsKey reports whether s parses as a single cell key.
func IsKey(s string) bool {
	_, err := ParseKey(s)
	return err == nil
}

// Normalize returns the canonical form of a key ("$a$1" -> "A1").
func Normalize(key string) (Key, error) {
	addr, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return addr.Key(), nil
}

// FormatKey encodes a 1-based column and row as a Key.
func FormatKey(column, row int) Key {
	return Key(ColumnName(column) + strconv.Itoa(row))
}

// ColumnIndex converts column letters to a 1-based index ("A" -> 1, "AA" -> 27).
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column")
	}
	n := 0
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		if !isLetter(c) {
			return 0, fmt.Errorf("invalid column %q", letters)
		}
		n = n*26 + int(toUpper(c)-'A') + 1
	}
	return n, nil
}

// ColumnName converts a 1-based column index to letters (1 -> "A", 27 -> "AA").
func ColumnName(index int) string {
	if index < 1 {
		return ""
	}
	var buf []byte
	for index > 0 {
		index--
		buf = append([]byte{byte('A' + index%26)}, buf...)
		index /= 26
	}
	return string(buf)
}

// Range is a rectangular block of cells. A zero bound is open: "A:B" has no
// row bounds, "2:4" has no column bounds.
type Range struct {
	StartColumn int
	StartRow    int
	EndColumn   int
	EndRow      int
}

// ParseRange parses "A1:B3", "A:B", "2:4", or a single key "A1".
func ParseRange(s string) (Range, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "$", "")
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		addr, err := ParseKey(parts[0])
		if err != nil {
			return Range{}, err
		}
		return Range{addr.Column, addr.Row, addr.Column, addr.Row}, nil
	case 2:
	default:
		return Range{}, fmt.Errorf("invalid range %q", s)
	}

	start, err := parseBound(parts[0])
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	end, err := parseBound(parts[1])
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}

	// both ends must agree on which axes are bounded
	if (start.Column == 0) != (end.Column == 0) || (start.Row == 0) != (end.Row == 0) {
		return Range{}, fmt.Errorf("invalid range %q: mismatched bounds", s)
	}

	r := Range{
		StartColumn: min(start.Column, end.Column),
		StartRow:    min(start.Row, end.Row),
		EndColumn:   max(start.Column, end.Column),
		EndRow:      max(start.Row, end.Row),
	}
	return r, nil
}

// IsRange reports whether s is range syntax (contains ':' and parses).
func IsRange(s string) bool {
	if !strings.Contains(s, ":") {
		return false
	}
	_, err := ParseRange(s)
	return err == nil
}

// parseBound parses one side of a range: a key, a column ("A"), or a row ("3").
func parseBound(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty bound")
	}
	if addr, err := ParseKey(s); err == nil {
		return addr, nil
	}
	if col, err := ColumnIndex(s); err == nil {
		return Address{Column: col}, nil
	}
	if row, err := strconv.Atoi(s); err == nil && row > 0 {
		return Address{Row: row}, nil
	}
	return Address{}, fmt.Errorf("invalid bound %q", s)
}

// Bounded reports whether both axes have explicit bounds.
func (r Range) Bounded() bool {
	return r.StartColumn > 0 && r.StartRow > 0
}

// Contains reports whether key falls inside the range. Unparseable keys are
// never contained.
func (r Range) Contains(key Key) bool {
	addr, err := ParseKey(string(key))
	if err != nil {
		return false
	}
	if r.StartColumn > 0 && (addr.Column < r.StartColumn || addr.Column > r.EndColumn) {
		return false
	}
	if r.StartRow > 0 && (addr.Row < r.StartRow || addr.Row > r.EndRow) {
		return false
	}
	return true
}

// Keys enumerates every key of a bounded range in row-major order.
// Returns nil for open ranges.
func (r Range) Keys() []Key {
	if !r.Bounded() {
		return nil
	}
	keys := make([]Key, 0, (r.EndRow-r.StartRow+1)*(r.EndColumn-r.StartColumn+1))
	for row := r.StartRow; row <= r.EndRow; row++ {
		for col := r.StartColumn; col <= r.EndColumn; col++ {
			keys = append(keys, FormatKey(col, row))
		}
	}
	return keys
}

// Members returns the keys from known that fall inside the range, sorted.
func (r Range) Members(known []Key) []Key {
	var out []Key
	for _, k := range known {
		if r.Contains(k) {
			out = append(out, k)
		}
	}
	SortKeys(out)
	return out
}

// String renders the range in A1 notation.
func (r Range) String() string {
	switch {
	case r.Bounded():
		if r.StartColumn == r.EndColumn && r.StartRow == r.EndRow {
			return string(FormatKey(r.StartColumn, r.StartRow))
		}
		return string(FormatKey(r.StartColumn, r.StartRow)) + ":" + string(FormatKey(r.EndColumn, r.EndRow))
	case r.StartColumn > 0:
		return ColumnName(r.StartColumn) + ":" + ColumnName(r.EndColumn)
	default:
		return strconv.Itoa(r.StartRow) + ":" + strconv.Itoa(r.EndRow)
	}
}

// SortKeys sorts keys by column, then row. Unparseable keys sort last,
// lexically.
func SortKeys(keys []Key) {
	sort.SliceStable(keys, func(i, j int) bool {
		return CompareKeys(keys[i], keys[j]) < 0
	})
}

// CompareKeys orders keys by column, then row.
func CompareKeys(a, b Key) int {
	aa, aerr := ParseKey(string(a))
	ba, berr := ParseKey(string(b))
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(string(a), string(b))
	case aerr != nil:
		return 1
	case berr != nil:
		return -1
	}
	if aa.Column != ba.Column {
		return aa.Column - ba.Column
	}
	return aa.Row - ba.Row
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
