package option

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOption_ValueRoundTrip(t *testing.T) {
	o := New("Exposure", 33000)
	assert.Equal(t, "Exposure", o.Name())
	assert.Equal(t, 33000.0, o.Value())

	o.SetValue(1.5)
	assert.Equal(t, 1.5, o.Value())
}

func TestOption_ToJSON(t *testing.T) {
	o := New("Gain", 16).
		WithDescription("UVC image gain").
		WithRange(Range{Min: 16, Max: 248, Step: 1, Default: 16})

	j := o.ToJSON()
	assert.Equal(t, "Gain", j["name"])
	assert.Equal(t, 16.0, j["value"])
	assert.Equal(t, "UVC image gain", j["description"])
	assert.Equal(t, []any{16.0, 248.0, 1.0, 16.0}, j["range"])
}

func TestOption_ToJSONMinimal(t *testing.T) {
	j := New("Laser Power", 150).ToJSON()
	assert.NotContains(t, j, "description")
	assert.NotContains(t, j, "range")
}

func TestOption_UpdateErrorKeepsValue(t *testing.T) {
	o := New("Exposure", 10)
	err := o.Update(func(*Option) error {
		return errors.New("rejected")
	})
	require.Error(t, err)
	assert.Equal(t, 10.0, o.Value())
}

func TestOption_ConcurrentUpdates(t *testing.T) {
	o := New("Counter", 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Update(func(o *Option) error {
				o.SetValue(o.Value() + 1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, o.Value())
}

func TestList_FindAndNames(t *testing.T) {
	l := List{New("a", 1), New("b", 2), New("a", 3)}

	got, ok := l.Find("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Value(), "first match wins")

	_, ok = l.Find("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "a"}, l.Names())
	assert.Len(t, l.ToJSON(), 3)
}
