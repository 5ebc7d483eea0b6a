package reqflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_IsIdempotentPerName(t *testing.T) {
	t.Parallel()

	name := "factory-idempotent"
	mock := NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)
	first, err := Create(name, WithTransport(mock))
	require.NoError(t, err)

	second, err := Create(name, WithMaxConcurrent(99))
	require.NoError(t, err)

	assert.Same(t, first, second, "a second Create with the same name must return the existing instance")
}

func TestCreate_DifferentNamesAreIndependent(t *testing.T) {
	t.Parallel()

	a, err := Create("factory-a", WithTransport(NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)))
	require.NoError(t, err)
	b, err := Create("factory-b", WithTransport(NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestLookup_ReturnsFalseForUnknownName(t *testing.T) {
	t.Parallel()

	_, ok := Lookup("factory-never-created")
	assert.False(t, ok)
}

func TestLookup_FindsACreatedClient(t *testing.T) {
	t.Parallel()

	name := "factory-lookup-hit"
	created, err := Create(name, WithTransport(NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)))
	require.NoError(t, err)

	found, ok := Lookup(name)
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestCreate_ConcurrentCallsReturnOneInstance(t *testing.T) {
	t.Parallel()

	name := "factory-concurrent"
	const n = 20
	clients := make([]*Client, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := Create(name, WithTransport(NewMockTransport().StubDefault(&Response{StatusCode: 200}, nil)))
			require.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, clients[0], clients[i])
	}
}
