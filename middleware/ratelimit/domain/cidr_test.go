package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange_Boundaries(t *testing.T) {
	r, err := ParseRange("10.0.0.0/8")
	require.NoError(t, err)

	assert.True(t, r.Contains("10.0.0.0"), "network address")
	assert.True(t, r.Contains("10.255.255.255"), "last address")
	assert.True(t, r.Contains("10.1.2.3"))
	assert.False(t, r.Contains("9.255.255.255"))
	assert.False(t, r.Contains("11.0.0.0"))
}

func TestParseRange_BareAddressIsSingleHost(t *testing.T) {
	r, err := ParseRange(" 192.168.1.10 ")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10/32", r.String())
	assert.True(t, r.Contains("192.168.1.10"))
	assert.False(t, r.Contains("192.168.1.11"))

	r6, err := ParseRange("2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1/128", r6.String())
}

func TestParseRange_NormalizesHostBits(t *testing.T) {
	r, err := ParseRange("10.1.2.3/16")
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.0/16", r.String())
	assert.True(t, r.Contains("10.1.255.1"))
}

func TestParseRange_IPv4MappedAddresses(t *testing.T) {
	r := MustParseRange("10.0.0.0/8")
	assert.True(t, r.Contains("::ffff:10.0.0.1"))

	mapped := MustParseRange("::ffff:192.168.0.0/112")
	assert.Equal(t, "192.168.0.0/16", mapped.String())
	assert.True(t, mapped.Contains("192.168.3.4"))
}

func TestParseRange_Invalid(t *testing.T) {
	for _, in := range []string{"", "  ", "10.0.0.0/33", "not-an-ip", "10.0.0/8", "300.1.1.1"} {
		_, err := ParseRange(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrInvalidRange), "input %q", in)

		var rangeErr *InvalidRangeError
		require.True(t, errors.As(err, &rangeErr))
		assert.Equal(t, in, rangeErr.Range)
	}
}

func TestRange_ContainsRejectsGarbage(t *testing.T) {
	r := MustParseRange("0.0.0.0/0")
	assert.False(t, r.Contains("unknown"))
	assert.False(t, r.Contains(""))
	assert.False(t, Range{}.Contains("1.2.3.4"))
}

func TestMatchAny(t *testing.T) {
	ranges, err := ParseRanges([]string{"192.0.2.0/24", "198.51.100.7"})
	require.NoError(t, err)

	assert.True(t, MatchAny(ranges, "192.0.2.200"))
	assert.True(t, MatchAny(ranges, "198.51.100.7"))
	assert.False(t, MatchAny(ranges, "198.51.100.8"))
	assert.False(t, MatchAny(nil, "192.0.2.1"))
}

func TestParseRanges_StopsAtFirstInvalid(t *testing.T) {
	_, err := ParseRanges([]string{"10.0.0.0/8", "bad", "also-bad"})
	var rangeErr *InvalidRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, "bad", rangeErr.Range)
}

func TestRange_TextRoundTrip(t *testing.T) {
	var cfg struct {
		Ranges []Range `json:"ranges"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"ranges":["10.0.0.0/8","1.2.3.4"]}`), &cfg))
	require.Len(t, cfg.Ranges, 2)
	assert.Equal(t, []string{"10.0.0.0/8", "1.2.3.4/32"}, RangeStrings(cfg.Ranges))

	err := json.Unmarshal([]byte(`{"ranges":["nope"]}`), &cfg)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRuleConfig_WithDefaults(t *testing.T) {
	c := RuleConfig{}.WithDefaults()
	assert.Equal(t, DefaultMax, c.Max)
	assert.Equal(t, DefaultInterval, c.Interval)

	c = RuleConfig{Max: 3, Interval: 1}.WithDefaults()
	assert.Equal(t, 3, c.Max)
	assert.EqualValues(t, 1, c.Interval)
}
