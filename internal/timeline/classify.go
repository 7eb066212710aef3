package timeline

import (
	"strconv"
	"time"
)

// Variant is the closed set of item kinds the poller understands.
type Variant int

// Item variants, in classification priority order.
const (
	VariantUnknown Variant = iota
	VariantIdentifier
	VariantStatus
	VariantUser
	VariantPlace
	VariantTrend
	VariantRateLimitNotice
	VariantWarning
)

var variantNames = map[Variant]string{
	VariantUnknown:         "unknown",
	VariantIdentifier:      "identifier",
	VariantStatus:          "status",
	VariantUser:            "user",
	VariantPlace:           "place",
	VariantTrend:           "trend",
	VariantRateLimitNotice: "rate_limit",
	VariantWarning:         "warning",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return "unknown"
}

// HasID reports whether the variant carries an id_str and is archived by id.
func (v Variant) HasID() bool {
	return v == VariantStatus || v == VariantUser
}

// Emitted reports whether items of this variant are written to the sink.
func (v Variant) Emitted(includeWarnings bool) bool {
	switch v {
	case VariantIdentifier, VariantStatus, VariantUser, VariantPlace, VariantTrend:
		return true
	case VariantRateLimitNotice, VariantWarning:
		return includeWarnings
	default:
		return false
	}
}

// Classify maps an item to its variant. Objects matching no known key are
// VariantUnknown and are dropped by the poller.
func Classify(item Item) Variant {
	switch {
	case item.IsIdentifier():
		return VariantIdentifier
	case item.Has("id_str"):
		if isUser(item) {
			return VariantUser
		}
		return VariantStatus
	case item.Has("woeid"):
		return VariantPlace
	case item.Has("tweet_volume"):
		return VariantTrend
	case item.Has("limit"):
		return VariantRateLimitNotice
	case item.Has("warning"):
		return VariantWarning
	default:
		return VariantUnknown
	}
}

func isUser(item Item) bool {
	return item.Has("screen_name") && !item.Has("text") && !item.Has("full_text")
}

// RateLimitNotice reports statuses the stream could not deliver.
type RateLimitNotice struct {
	Track string
	At    time.Time
}

// ParseRateLimitNotice reads limit.track and limit.timestamp_ms.
func ParseRateLimitNotice(item Item) RateLimitNotice {
	limit, _ := item.Fields["limit"].(map[string]any)
	notice := RateLimitNotice{}
	if limit == nil {
		return notice
	}
	notice.Track = stringValue(limit["track"])
	if ms, err := strconv.ParseInt(stringValue(limit["timestamp_ms"]), 10, 64); err == nil {
		notice.At = time.UnixMilli(ms).UTC()
	}
	return notice
}

// WarningMessage returns warning.message, or the warning itself when it is a string.
func WarningMessage(item Item) string {
	switch w := item.Fields["warning"].(type) {
	case map[string]any:
		return stringValue(w["message"])
	default:
		return stringValue(w)
	}
}
