package tabs

// history is a browser-style back/forward list. The zero value is empty.
type history struct {
	entries []string
	cur     int // index of the current entry plus one; 0 when empty
}

func (h *history) current() string {
	if h.cur == 0 {
		return ""
	}
	return h.entries[h.cur-1]
}

// push records a new page and drops anything forward of the current entry
func (h *history) push(url string) {
	h.entries = append(h.entries[:h.cur], url)
	h.cur = len(h.entries)
}

// replace rewrites the current entry, e.g. after a redirect
func (h *history) replace(url string) {
	if h.cur == 0 {
		h.push(url)
		return
	}
	h.entries[h.cur-1] = url
}

func (h *history) back() (string, bool) {
	if h.cur <= 1 {
		return "", false
	}
	h.cur--
	return h.current(), true
}

func (h *history) forward() (string, bool) {
	if h.cur >= len(h.entries) {
		return "", false
	}
	h.cur++
	return h.current(), true
}
