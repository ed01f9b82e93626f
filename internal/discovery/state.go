package discovery

// searchState is shared by the passes of one Discover call so a source only
// pays for results it has not fetched yet. It is not safe for concurrent
// use; the engine calls sources one at a time.
type searchState struct {
	google     map[string]*googleCursor
	foursquare map[string]int
	reused     bool
}

// googleCursor tracks the text search pages already fetched for one query text.
type googleCursor struct {
	pages    int
	next     string
	done     bool
	detailed int
}

func newSearchState() *searchState {
	return &searchState{
		google:     make(map[string]*googleCursor),
		foursquare: make(map[string]int),
	}
}

// cursor returns the cursor for text. A nil state hands out a fresh cursor
// every time, so sources called outside Discover behave as single-shot.
func (s *searchState) cursor(text string) *googleCursor {
	if s == nil {
		return &googleCursor{}
	}
	c, ok := s.google[text]
	if !ok {
		c = &googleCursor{}
		s.google[text] = c
	}
	return c
}

func (s *searchState) foursquareLimit(key string) int {
	if s == nil {
		return 0
	}
	return s.foursquare[key]
}

func (s *searchState) setFoursquareLimit(key string, limit int) {
	if s != nil {
		s.foursquare[key] = limit
	}
}

func (s *searchState) reusedDone() bool { return s != nil && s.reused }

func (s *searchState) markReused() {
	if s != nil {
		s.reused = true
	}
}
