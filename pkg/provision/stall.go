package provision

import "strings"

// StallWindow distinguishes a genuinely stalled transfer from one that is
// merely slower than the wait timeout. On every timeout the caller feeds it
// the trailing channel output; if the fragment is unchanged since the last
// timeout the transfer has stopped, otherwise the wait should simply
// continue.
//
// The comparison window is the text after the last carriage return: a
// download progress bar redraws its line with \r, so the after-\r tail is
// exactly the part that moves while a transfer progresses. A stall that
// keeps printing a changing prefix before the last \r would go undetected,
// which is accepted here in exchange for not misclassifying redrawn
// progress lines.
type StallWindow struct {
	prev string
}

// Progressed records the current trailing fragment and reports whether the
// transfer moved since the previous timeout.
func (w *StallWindow) Progressed(tail string) bool {
	frag := tail
	if i := strings.LastIndexByte(tail, '\r'); i >= 0 {
		frag = tail[i+1:]
	}
	if frag == w.prev {
		return false
	}
	w.prev = frag
	return true
}
