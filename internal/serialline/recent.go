package serialline

// recentRing is a small fixed-size, most-recent-first window of accepted
// "unit,sensor,value,dataID" keys, used to drop wireless retransmission
// duplicates. Ported directly from original_source/keilib/serial.py's
// self.recent list (insert(0, ...) + pop() at length 10).
type recentRing struct {
	keys []string
}

const recentCapacity = 10

func newRecentRing() *recentRing {
	return &recentRing{keys: make([]string, 0, recentCapacity)}
}

// Seen reports whether key is already present.
func (r *recentRing) Seen(key string) bool {
	for _, k := range r.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Add prepends key, trimming the ring back to its capacity.
func (r *recentRing) Add(key string) {
	r.keys = append([]string{key}, r.keys...)
	if len(r.keys) > recentCapacity {
		r.keys = r.keys[:recentCapacity]
	}
}
