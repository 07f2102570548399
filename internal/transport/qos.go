package transport

import (
	"fmt"
)

// Reliability selects the delivery guarantee of a channel.
type Reliability int

const (
	// BestEffort may drop samples (metadata, stream data).
	BestEffort Reliability = iota
	// Reliable retransmits until acknowledged (control, notifications).
	Reliable
)

// String returns the settings name of the reliability kind.
func (r Reliability) String() string {
	switch r {
	case Reliable:
		return "reliable"
	default:
		return "best-effort"
	}
}

// QoS is the quality of service requested for a writer or reader.
type QoS struct {
	Reliability  Reliability
	HistoryDepth int
}

// ReliableQoS returns the default QoS for control and notification channels.
func ReliableQoS() QoS {
	return QoS{Reliability: Reliable, HistoryDepth: 1}
}

// BestEffortQoS returns a best-effort QoS keeping the last depth samples.
func BestEffortQoS(depth int) QoS {
	return QoS{Reliability: BestEffort, HistoryDepth: depth}
}

// OverrideFromSettings applies the "reliability" and "history-depth" keys of
// settings to a copy of q. A nil or empty map leaves q unchanged.
//
// Example settings (YAML):
//
//	device:
//	  metadata:
//	    reliability: reliable
//	    history-depth: 50
func (q QoS) OverrideFromSettings(settings map[string]any) (QoS, error) {
	out := q

	if v, ok := settings["reliability"]; ok {
		s, isString := v.(string)
		if !isString {
			return q, fmt.Errorf("%w: reliability must be a string, got %T", ErrInvalidQoS, v)
		}
		switch s {
		case "reliable":
			out.Reliability = Reliable
		case "best-effort", "best_effort":
			out.Reliability = BestEffort
		default:
			return q, fmt.Errorf("%w: unknown reliability %q", ErrInvalidQoS, s)
		}
	}

	if v, ok := settings["history-depth"]; ok {
		depth, isInt := toInt(v)
		if !isInt || depth < 1 {
			return q, fmt.Errorf("%w: history-depth must be a positive integer, got %v", ErrInvalidQoS, v)
		}
		out.HistoryDepth = depth
	}

	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Settings is a tree of participant settings, typically loaded from YAML.
type Settings map[string]any

// Lookup walks nested maps along path and returns the map found there.
func (s Settings) Lookup(path ...string) (map[string]any, bool) {
	current := map[string]any(s)
	for _, key := range path {
		next, ok := current[key]
		if !ok {
			return nil, false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, false
		}
		current = m
	}
	return current, true
}
