package broadcast

import (
	"context"
	"errors"
	"sync"
)

// Factory starts one broadcaster for a device.
type Factory func(info DeviceInfo, onAck func()) (Broadcaster, error)

// Multi fans a broadcast out over several broadcasters.
type Multi struct {
	members []Broadcaster
}

// NewMulti starts every factory. onAck fires once all members have
// acknowledged their first announcement, and again for every later
// re-announcement of any member. If a factory fails, the members already
// started are disconnected and the error is returned.
func NewMulti(info DeviceInfo, onAck func(), factories ...Factory) (*Multi, error) {
	var (
		mu      sync.Mutex
		pending = len(factories)
		acked   = make([]bool, len(factories))
	)

	memberAck := func(i int) func() {
		return func() {
			mu.Lock()
			if !acked[i] {
				acked[i] = true
				pending--
			}
			fire := pending == 0
			mu.Unlock()

			if fire && onAck != nil {
				onAck()
			}
		}
	}

	m := &Multi{}
	for i, f := range factories {
		b, err := f(info, memberAck(i))
		if err != nil {
			_ = m.Disconnect(context.Background())
			return nil, err
		}
		m.members = append(m.members, b)
	}

	if len(factories) == 0 && onAck != nil {
		go onAck()
	}
	return m, nil
}

// Disconnect disconnects every member and joins their errors.
func (m *Multi) Disconnect(ctx context.Context) error {
	var errs []error
	for _, b := range m.members {
		if err := b.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.members = nil
	return errors.Join(errs...)
}
