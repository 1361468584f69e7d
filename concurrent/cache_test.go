// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package concurrent

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_GetOr(t *testing.T) {
	t.Run("will only initialize once", func(t *testing.T) {
		c := NewCache[string, int]()

		calls := 0
		init := func() (int, error) {
			calls++
			return 42, nil
		}

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.GetOr("a", init)
				require.NoError(t, err)
				require.Equal(t, 42, v)
			}()
		}
		wg.Wait()

		require.Equal(t, 1, calls)
	})

	t.Run("will not store the value", func(t *testing.T) {
		t.Run("if the initializer fails", func(t *testing.T) {
			c := NewCache[string, int]()

			initErr := errors.New("failed")
			_, err := c.GetOr("a", func() (int, error) {
				return 0, initErr
			})
			require.ErrorIs(t, err, initErr)

			_, ok := c.Get("a")
			require.False(t, ok)
		})
	})
}

func TestCache_LoadAndDelete(t *testing.T) {
	t.Run("will only succeed once per key", func(t *testing.T) {
		c := NewCache[string, int]()
		c.Set("a", 1)

		v, ok := c.LoadAndDelete("a")
		require.True(t, ok)
		require.Equal(t, 1, v)

		_, ok = c.LoadAndDelete("a")
		require.False(t, ok)
		require.Equal(t, 0, c.Len())
	})
}

func TestCache_DeleteFunc(t *testing.T) {
	t.Run("will remove matching entries", func(t *testing.T) {
		c := NewCache[string, int]()
		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("c", 3)

		removed := c.DeleteFunc(func(k string, v int) bool {
			return v%2 == 1
		})

		require.ElementsMatch(t, []string{"a", "c"}, removed)
		require.Equal(t, 1, c.Len())

		c.Clear()
		require.Equal(t, 0, c.Len())
	})
}
