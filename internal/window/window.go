package window

// EffectiveWindowSize derives the working window radius from the
// configured size and the collection length: small collections are kept
// fully resident, huge ones get a window that grows sublinearly so
// memory does not scale with the collection.
func EffectiveWindowSize(configured, length int) int {
	if length <= 0 || configured <= 0 {
		return 0
	}

	switch {
	case length <= 100:
		return minInt(configured, length)
	case length <= 1000:
		return minInt(configured, maxInt(50, length/10))
	case length <= 10000:
		return minInt(configured, maxInt(100, length/50))
	default:
		return maxInt(200, minInt(configured, length/100))
	}
}

// State describes the coordinator's window over the collection.
// EffectiveWindowSize starts at the tier value for the collection
// length and may be grown by the adaptive controller up to
// ConfiguredWindowSize.
type State struct {
	CurrentIndex         int `json:"current_index"`
	CollectionLength     int `json:"collection_length"`
	ConfiguredWindowSize int `json:"configured_window_size"`
	EffectiveWindowSize  int `json:"effective_window_size"`
	BufferMultiplier     int `json:"buffer_multiplier"`

	LoadStart   int `json:"load_start"`
	LoadEnd     int `json:"load_end"`
	RetainStart int `json:"retain_start"`
	RetainEnd   int `json:"retain_end"`
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
