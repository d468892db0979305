package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendExchanges(t *testing.T, w *Window, key string, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		require.NoError(t, w.Append(context.Background(), key, Exchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))))
	}
}

func TestRead_UnknownKeyIsEmpty(t *testing.T) {
	w := NewWindow(NewMemoryStore(), 0)
	turns, err := w.Read(context.Background(), "nope")
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)
}

func TestAppend_KeepsInsertionOrder(t *testing.T) {
	w := NewWindow(NewMemoryStore(), 0)
	appendExchanges(t, w, "k", 0, 2)

	turns, err := w.Read(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []Turn{
		{Role: RoleUser, Content: "q0"},
		{Role: RoleAssistant, Content: "a0"},
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
	}, turns)
}

func TestAppend_TruncatesOldestExchangesFirst(t *testing.T) {
	for _, tc := range []struct{ existing, added int }{
		{0, 3}, {8, 2}, {9, 3}, {10, 1}, {4, 15},
	} {
		t.Run(fmt.Sprintf("m=%d,k=%d", tc.existing, tc.added), func(t *testing.T) {
			w := NewWindow(NewMemoryStore(), 0)
			appendExchanges(t, w, "k", 0, tc.existing)
			appendExchanges(t, w, "k", tc.existing, tc.added)

			turns, err := w.Read(context.Background(), "k")
			require.NoError(t, err)

			total := tc.existing + tc.added
			want := min(total, DefaultMaxExchanges)
			require.Len(t, turns, 2*want)
			// The newest exchange is always retained, the oldest go first.
			require.Equal(t, fmt.Sprintf("a%d", total-1), turns[len(turns)-1].Content)
			require.Equal(t, fmt.Sprintf("q%d", total-want), turns[0].Content)
		})
	}
}

func TestClear(t *testing.T) {
	w := NewWindow(NewMemoryStore(), 0)
	appendExchanges(t, w, "k", 0, 2)
	appendExchanges(t, w, "other", 0, 1)

	require.NoError(t, w.Clear(context.Background(), "k"))

	turns, err := w.Read(context.Background(), "k")
	require.NoError(t, err)
	require.Empty(t, turns)

	turns, err = w.Read(context.Background(), "other")
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestAppend_ConcurrentAppendsStayBounded(t *testing.T) {
	w := NewWindow(NewMemoryStore(), 0)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.Append(context.Background(), "k", Exchange(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
		}(i)
	}
	wg.Wait()

	turns, err := w.Read(context.Background(), "k")
	require.NoError(t, err)
	require.Len(t, turns, 20)
	for i := 0; i < len(turns); i += 2 {
		require.Equal(t, RoleUser, turns[i].Role)
		require.Equal(t, RoleAssistant, turns[i+1].Role)
		require.Equal(t, turns[i].Content[1:], turns[i+1].Content[1:])
	}
}

func TestDefaultKey(t *testing.T) {
	require.Equal(t, "u1_default", DefaultKey("u1"))
}
