package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTweetCollectsURLs(t *testing.T) {
	t.Parallel()

	item := mustItem(t, `{
		"id_str": "10",
		"text": "short",
		"urls": ["http://Example.com/A"],
		"entities": {"urls": [
			{"url": "https://t.co/x", "expanded_url": "https://example.org/story"},
			{"url": "https://t.co/y"}
		]},
		"extended_tweet": {
			"full_text": "the long text",
			"entities": {"urls": [{"expanded_url": "https://example.org/story"}]}
		},
		"retweeted_status": {
			"id_str": "9",
			"entities": {"urls": [{"expanded_url": "https://retweeted.example/"}]},
			"quoted_status": {"id_str": "8", "entities": {"urls": [{"expanded_url": "https://quoted.example/"}]}}
		}
	}`)

	tweet, err := ParseTweet(item)
	require.NoError(t, err)
	require.Equal(t, "10", tweet.ID)
	require.Equal(t, "the long text", tweet.Text)
	require.Equal(t, []string{
		"http://Example.com/A",
		"https://example.org/story",
		"https://t.co/y",
		"https://retweeted.example/",
		"https://quoted.example/",
	}, tweet.URLs)
}

func TestParseTweetFailures(t *testing.T) {
	t.Parallel()

	testCases := map[string]Item{
		"identifier":      NewIdentifier("1"),
		"missing id_str":  mustItem(t, `{"text":"no id"}`),
		"numeric id_str":  mustItem(t, `{"id_str":123}`),
		"entities shape":  mustItem(t, `{"id_str":"1","entities":{"urls":"nope"}}`),
		"urls not a list": mustItem(t, `{"id_str":"1","urls":5}`),
	}
	for name, item := range testCases {
		_, err := ParseTweet(item)
		require.ErrorIs(t, err, ErrMalformedTweet, name)
	}
}

func TestParseTweetWithoutURLs(t *testing.T) {
	t.Parallel()

	tweet, err := ParseTweet(mustItem(t, `{"id_str":"1","full_text":"nothing linked"}`))
	require.NoError(t, err)
	require.Empty(t, tweet.URLs)
	require.Equal(t, "nothing linked", tweet.Text)
}
