package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTweet marks a status whose structure could not be parsed.
var ErrMalformedTweet = errors.New("malformed tweet")

// Tweet is the structured view of a status used for URL extraction.
type Tweet struct {
	ID   string
	Text string
	URLs []string
}

type urlEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type entities struct {
	URLs []urlEntity `json:"urls"`
}

type statusPayload struct {
	IDStr         string   `json:"id_str"`
	Text          string   `json:"text"`
	FullText      string   `json:"full_text"`
	URLs          []string `json:"urls"`
	Entities      entities `json:"entities"`
	ExtendedTweet *struct {
		FullText string   `json:"full_text"`
		Entities entities `json:"entities"`
	} `json:"extended_tweet"`
	RetweetedStatus *statusPayload `json:"retweeted_status"`
	QuotedStatus    *statusPayload `json:"quoted_status"`
}

// ParseTweet decodes a status item and collects the URLs it references,
// including those of retweeted and quoted statuses. URLs are deduplicated
// and keep first-seen order.
func ParseTweet(item Item) (Tweet, error) {
	if item.IsIdentifier() || len(item.Raw) == 0 {
		return Tweet{}, fmt.Errorf("%w: not an object", ErrMalformedTweet)
	}
	var payload statusPayload
	if err := json.Unmarshal(item.Raw, &payload); err != nil {
		return Tweet{}, fmt.Errorf("%w: %w", ErrMalformedTweet, err)
	}
	if payload.IDStr == "" {
		return Tweet{}, fmt.Errorf("%w: missing id_str", ErrMalformedTweet)
	}

	tweet := Tweet{ID: payload.IDStr, Text: payload.text()}
	seen := map[string]struct{}{}
	payload.collectURLs(func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		tweet.URLs = append(tweet.URLs, u)
	})
	return tweet, nil
}

func (p *statusPayload) text() string {
	switch {
	case p.ExtendedTweet != nil && p.ExtendedTweet.FullText != "":
		return p.ExtendedTweet.FullText
	case p.FullText != "":
		return p.FullText
	default:
		return p.Text
	}
}

func (p *statusPayload) collectURLs(add func(string)) {
	for _, u := range p.URLs {
		add(u)
	}
	addEntities := func(e entities) {
		for _, ent := range e.URLs {
			if ent.ExpandedURL != "" {
				add(ent.ExpandedURL)
				continue
			}
			add(ent.URL)
		}
	}
	addEntities(p.Entities)
	if p.ExtendedTweet != nil {
		addEntities(p.ExtendedTweet.Entities)
	}
	if p.RetweetedStatus != nil {
		p.RetweetedStatus.collectURLs(add)
	}
	if p.QuotedStatus != nil {
		p.QuotedStatus.collectURLs(add)
	}
}
