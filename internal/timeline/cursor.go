package timeline

// Tracker owns the poll cursor. It is not safe for concurrent use; the
// poller is its only writer.
type Tracker struct {
	cursor Cursor
}

// NewTracker starts tracking from the given cursor.
func NewTracker(start Cursor) *Tracker {
	return &Tracker{cursor: start}
}

// Cursor returns the current cursor.
func (t *Tracker) Cursor() Cursor {
	return t.cursor
}

// ObservePageStart records the id of a page's first item. Only ids that carry
// a status are passed in; an empty id (empty page, or first item without an
// id) leaves the cursor untouched, as does an id older than the current one.
// It reports whether since_id changed.
func (t *Tracker) ObservePageStart(firstID string) bool {
	if firstID == "" {
		return false
	}
	if t.cursor.SinceID != "" && CompareIDs(firstID, t.cursor.SinceID) < 0 {
		return false
	}
	changed := t.cursor.SinceID != firstID
	t.cursor.SinceID = firstID
	return changed
}

// ClearMaxID drops the upper bound once newer pages are bounded by since_id.
func (t *Tracker) ClearMaxID() {
	t.cursor.MaxID = ""
}
