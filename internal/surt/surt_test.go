package surt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases everything", "http://Example.com/A", "http://example.com/a"},
		{"default http port", "http://example.com:80/path", "http://example.com/path"},
		{"default https port", "HTTPS://EXAMPLE.COM:443", "https://example.com/"},
		{"keeps custom port", "http://example.com:8080/x", "http://example.com:8080/x"},
		{"strips www", "https://www.example.com/", "https://example.com/"},
		{"strips numbered www", "https://www2.example.com/", "https://example.com/"},
		{"drops fragment", "http://example.com/a#section", "http://example.com/a"},
		{"drops userinfo", "http://user:pw@example.com/", "http://example.com/"},
		{"sorts query", "http://example.com/?b=2&a=1", "http://example.com/?a=1&b=2"},
		{"drops empty query", "http://example.com/?", "http://example.com/"},
		{"trailing host dot", "http://example.com./", "http://example.com/"},
		{"trims whitespace", "  http://example.com/a  ", "http://example.com/a"},
		{"ipv6 host", "http://[::1]:80/", "http://[::1]/"},
		{"ipv6 zone keeps escape", "http://[FE80::1%25EN0]/x", "http://[fe80::1%25en0]/x"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeEquivalentURLs(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"http://EXAMPLE.com/page", "http://example.com/page"},
		{"http://example.com:80/page", "http://example.com/page"},
		{"https://example.com/?x=1&y=2", "https://example.com/?y=2&x=1"},
		{"https://www.example.com", "https://example.com/"},
	}
	for _, pair := range pairs {
		a, err := Normalize(pair[0])
		require.NoError(t, err)
		b, err := Normalize(pair[1])
		require.NoError(t, err)
		require.Equal(t, a, b, "%q vs %q", pair[0], pair[1])
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"http://Example.com/A",
		"https://www.www.example.com../Path%2FWith%41?Z=1&a=2&%5A=3",
		"http://example.com/caf%C3%A9?q=hello+World",
		"http://example.com/?bad=%zz&A=1",
		"http://[2001:DB8::1]:8080/x",
		"https://example.com/a b",
		"http://[fe80::1%25en0]/x",
		"http://[FE80::1%25EN0]:81/x",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err, in)
		twice, err := Normalize(once)
		require.NoError(t, err, once)
		require.Equal(t, once, twice, "normalize not idempotent for %q", in)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "   ", "not a url", "/relative/path", "http://", "http://:80/", "http://[::1", "A://::", "http://[not-an-ip]/"}
	for _, in := range inputs {
		_, err := Normalize(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrMalformedURL), "expected ErrMalformedURL for %q, got %v", in, err)

		var malformed *MalformedURLError
		require.True(t, errors.As(err, &malformed))
		require.Equal(t, in, malformed.URL)
	}
}

func TestTransform(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input string
		want  string
	}{
		{"http://Example.com/A", "com,example)/a"},
		{"https://www.news.example.co.uk/story?b=2&a=1", "uk,co,example,news)/story?a=1&b=2"},
		{"http://example.com:8080/", "com,example:8080)/"},
		{"http://127.0.0.1/x", "127.0.0.1)/x"},
		{"http://[fe80::1%25en0]:8080/x", "[fe80::1%25en0]:8080)/x"},
	}
	for _, tc := range testCases {
		got, err := Transform(tc.input)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := Transform("::nope")
	require.ErrorIs(t, err, ErrMalformedURL)
}

func FuzzNormalizeIdempotent(f *testing.F) {
	for _, seed := range []string{"http://example.com", "https://WWW.Example.com:443/a?b=c#d", "ftp://x.y:21/", "http://[fe80::1%25en0]/x", "A://::"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		once, err := Normalize(raw)
		if err != nil {
			return
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q) = %q which fails to re-normalize: %v", raw, once, err)
		}
		if once != twice {
			t.Fatalf("Normalize not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	})
}
