package rdns

import (
	"os"
	"strings"
	"sync"
)

// HitLogger appends matched qnames to a per-list hit file, one name per
// line, written as received (trailing dot kept, if present). Grounded on
// the original's record_hit: it refuses to write to a path that already
// looks like a hit file (contains ".hit."), and it never logs hits for the
// synthetic "servers", "final", or "default" rule kinds, since those
// aren't list matches.
type HitLogger struct {
	mu    sync.Mutex
	files map[string]*os.File
}

func NewHitLogger() *HitLogger {
	return &HitLogger{files: map[string]*os.File{}}
}

// Record appends qname to listName's configured hit file, if one is set
// and ruleKind names an actual list match.
func (h *HitLogger) Record(listName, hitFile, ruleKind, qname string) {
	if hitFile == "" || listName == "" {
		return
	}
	if strings.HasPrefix(ruleKind, "servers:") || strings.HasPrefix(ruleKind, "final:") || strings.HasPrefix(ruleKind, "default:") {
		return
	}
	if strings.Contains(hitFile, ".hit.") {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[hitFile]
	if !ok {
		var err error
		f, err = os.OpenFile(hitFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger("hitlog", ClientInfo{}, qname).WithError(err).Warn("failed to open hit file")
			return
		}
		h.files[hitFile] = f
	}
	if _, err := f.WriteString(qname + "\n"); err != nil {
		logger("hitlog", ClientInfo{}, qname).WithError(err).Warn("failed to write hit file")
	}
}

// Close closes every hit file opened so far.
func (h *HitLogger) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range h.files {
		f.Close()
	}
}
