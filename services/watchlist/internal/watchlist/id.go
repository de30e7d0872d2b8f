package watchlist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ItemID is the identity key of a watchlist entry. On the wire it is either a
// JSON string or a JSON number; the two forms never compare equal, so "1" and
// 1 are distinct items. Numeric IDs are held in canonical text, so 1e3 and
// 1000 are the same ID.
type ItemID struct {
	str   string
	isNum bool
}

func StringID(s string) ItemID { return ItemID{str: s} }

func IntID(n int64) ItemID { return ItemID{str: strconv.FormatInt(n, 10), isNum: true} }

// NumberID returns a numeric ID for f. f must be finite.
func NumberID(f float64) ItemID { return ItemID{str: formatNumber(f), isNum: true} }

// ParseID maps a path or CLI argument to an ID: numbers already in canonical
// form ("42", "1.5") become numeric IDs, anything else a string ID.
func ParseID(s string) ItemID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return IntID(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) && formatNumber(f) == s {
		return NumberID(f)
	}
	return StringID(s)
}

func (id ItemID) IsNumeric() bool { return id.isNum }

// IsZero reports an unset ID (and the empty string ID, which is not a valid key).
func (id ItemID) IsZero() bool { return !id.isNum && id.str == "" }

func (id ItemID) String() string { return id.str }

func (id ItemID) MarshalJSON() ([]byte, error) {
	if id.isNum {
		return []byte(id.str), nil
	}
	return json.Marshal(id.str)
}

func (id *ItemID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	canon, err := canonicalNumber(b)
	if err != nil {
		return fmt.Errorf("watchlist: id must be a string or a number, got %s", b)
	}
	*id = ItemID{str: canon, isNum: true}
	return nil
}

// canonicalNumber normalises a JSON number literal. Integer literals keep full
// int64 precision; everything else goes through float64.
func canonicalNumber(b []byte) (string, error) {
	s := string(b)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	if !json.Valid(b) {
		return "", fmt.Errorf("not a number: %s", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", err
	}
	return formatNumber(f), nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
