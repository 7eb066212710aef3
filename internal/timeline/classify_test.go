package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustItem(t *testing.T, raw string) Item {
	t.Helper()
	item, err := ParseItem([]byte(raw))
	require.NoError(t, err)
	return item
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
		want Variant
	}{
		{"bare string", `"42"`, VariantIdentifier},
		{"bare number", `42`, VariantIdentifier},
		{"status", `{"id_str":"123","text":"hi"}`, VariantStatus},
		{"status without text", `{"id_str":"123"}`, VariantStatus},
		{"user", `{"id_str":"9","screen_name":"someone"}`, VariantUser},
		{"place", `{"woeid":1}`, VariantPlace},
		{"trend", `{"tweet_volume":500}`, VariantTrend},
		{"rate limit", `{"limit":{"timestamp_ms":"1000","track":"x"}}`, VariantRateLimitNotice},
		{"warning", `{"warning":{"message":"m"}}`, VariantWarning},
		{"empty object", `{}`, VariantUnknown},
		{"unrecognized keys", `{"delete":{"status":{}}}`, VariantUnknown},
		{"id_str wins over woeid", `{"id_str":"1","woeid":2}`, VariantStatus},
		{"woeid wins over trend", `{"woeid":2,"tweet_volume":3}`, VariantPlace},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(mustItem(t, tc.raw)))
		})
	}
}

func TestVariantEmitted(t *testing.T) {
	t.Parallel()

	for _, v := range []Variant{VariantIdentifier, VariantStatus, VariantUser, VariantPlace, VariantTrend} {
		require.True(t, v.Emitted(false), v.String())
	}
	for _, v := range []Variant{VariantRateLimitNotice, VariantWarning} {
		require.False(t, v.Emitted(false), v.String())
		require.True(t, v.Emitted(true), v.String())
	}
	require.False(t, VariantUnknown.Emitted(true))
	require.Equal(t, "rate_limit", VariantRateLimitNotice.String())
	require.Equal(t, "unknown", Variant(99).String())
}

func TestParseRateLimitNotice(t *testing.T) {
	t.Parallel()

	notice := ParseRateLimitNotice(mustItem(t, `{"limit":{"timestamp_ms":"1000","track":"x"}}`))
	require.Equal(t, "x", notice.Track)
	require.Equal(t, time.Unix(1, 0).UTC(), notice.At)

	numeric := ParseRateLimitNotice(mustItem(t, `{"limit":{"timestamp_ms":1500000000000,"track":12}}`))
	require.Equal(t, "12", numeric.Track)
	require.Equal(t, time.UnixMilli(1500000000000).UTC(), numeric.At)

	require.Equal(t, RateLimitNotice{}, ParseRateLimitNotice(mustItem(t, `{"limit":5}`)))
}

func TestWarningMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "m", WarningMessage(mustItem(t, `{"warning":{"message":"m","code":"FALLING_BEHIND"}}`)))
	require.Equal(t, "plain", WarningMessage(mustItem(t, `{"warning":"plain"}`)))
}

func TestItemLinePreservesRawJSON(t *testing.T) {
	t.Parallel()

	item := mustItem(t, "{\n  \"id_str\": \"1\",\n  \"text\": \"café <b> & 日本\"\n}")
	line, err := item.Line()
	require.NoError(t, err)
	require.Equal(t, `{"id_str":"1","text":"café <b> & 日本"}`, line)

	id, err := NewIdentifier("42").Line()
	require.NoError(t, err)
	require.Equal(t, "42", id)
}

func TestParseItemErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "[1,2]", "{not json", "true", "null", " null ", `""`} {
		_, err := ParseItem([]byte(raw))
		require.ErrorIs(t, err, ErrInvalidItem, raw)
	}
}

func TestCompareIDs(t *testing.T) {
	t.Parallel()

	require.Equal(t, -1, CompareIDs("9", "10"))
	require.Equal(t, 1, CompareIDs("100", "99"))
	require.Equal(t, 0, CompareIDs("0123", "123"))
	require.Equal(t, -1, CompareIDs("1234", "1235"))
}
