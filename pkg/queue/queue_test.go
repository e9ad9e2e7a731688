package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPushPopOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	require.Equal(t, 5, q.Size())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Size())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	result := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			result <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-result:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned")
	}
}

func TestPopContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFrontBackDoNotRemove(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	front, err := q.Front(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, front)

	back, err := q.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, back)

	assert.Equal(t, 3, q.Size())
}

func TestPopNDrainsAvailable(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	batch := q.PopN(4)
	assert.Equal(t, []int{0, 1, 2, 3}, batch)
	assert.Equal(t, 6, q.Size())

	rest := q.PopN(100)
	assert.Len(t, rest, 6)
	assert.Equal(t, 0, q.Size())
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := New[int]()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(v int) {
			defer wg.Done()
			q.Push(v)
		}(i)
	}

	received := make(chan int, n)
	var cwg sync.WaitGroup
	cwg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer cwg.Done()
			v, err := q.Pop(context.Background())
			if err == nil {
				received <- v
			}
		}()
	}

	wg.Wait()
	cwg.Wait()
	close(received)

	seen := map[int]bool{}
	for v := range received {
		seen[v] = true
	}
	assert.Len(t, seen, n)
}
