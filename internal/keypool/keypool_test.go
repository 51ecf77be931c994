package keypool_test

import (
	"sync"
	"testing"

	"narrato-server/internal/keypool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FiltersEmptyKeys(t *testing.T) {
	pool, err := keypool.New([]string{"", "key-a", "  ", "key-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())
}

func TestNew_FailsFastOnEmptySet(t *testing.T) {
	_, err := keypool.New(nil)
	assert.Error(t, err)

	_, err = keypool.New([]string{"", "   "})
	assert.Error(t, err)
}

func TestNext_RoundRobinFairness(t *testing.T) {
	keys := []string{"k1", "k2", "k3"}
	pool, err := keypool.New(keys)
	require.NoError(t, err)

	// N вызовов на пуле размера N — каждый счетчик ровно 1
	for i := 0; i < len(keys); i++ {
		got := pool.Next()
		assert.Contains(t, keys, got)
	}
	for i, count := range pool.UsageSnapshot() {
		assert.Equal(t, 1, count, "key %d must be used exactly once", i)
	}

	// Еще N вызовов — каждый счетчик ровно 2
	for i := 0; i < len(keys); i++ {
		pool.Next()
	}
	for _, count := range pool.UsageSnapshot() {
		assert.Equal(t, 2, count)
	}
}

func TestLeastUsed_SelectsMinimum(t *testing.T) {
	pool, err := keypool.New([]string{"k1", "k2", "k3"})
	require.NoError(t, err)

	// Накручиваем k2 и k3 через Next: после двух вызовов usage = [0,1,1]
	pool.Next()
	pool.Next()

	assert.Equal(t, "k1", pool.LeastUsed())
	assert.Equal(t, []int{1, 1, 1}, pool.UsageSnapshot())

	// При равенстве — первый по порядку
	assert.Equal(t, "k1", pool.LeastUsed())
	assert.Equal(t, []int{2, 1, 1}, pool.UsageSnapshot())
}

func TestNext_ConcurrentCallers(t *testing.T) {
	const (
		workers  = 8
		perEach  = 25
		poolSize = 5
	)
	pool, err := keypool.New([]string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEach; j++ {
				assert.NotEmpty(t, pool.Next())
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, count := range pool.UsageSnapshot() {
		total += count
	}
	assert.Equal(t, workers*perEach, total)

	// workers*perEach кратно poolSize, значит round-robin распределил поровну
	expected := workers * perEach / poolSize
	for _, count := range pool.UsageSnapshot() {
		assert.Equal(t, expected, count)
	}
}

func TestFromEnv_OrdersByNumericSuffix(t *testing.T) {
	t.Setenv("TESTPOOL_KEY_10", "tenth")
	t.Setenv("TESTPOOL_KEY", "first")
	t.Setenv("TESTPOOL_KEY_2", "second")
	t.Setenv("TESTPOOL_OTHER", "ignored-no-numeric-suffix")

	pool, err := keypool.FromEnv("TESTPOOL_KEY")
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())

	// Next стартует со второго ключа (курсор двигается перед выдачей)
	assert.Equal(t, "second", pool.Next())
	assert.Equal(t, "tenth", pool.Next())
	assert.Equal(t, "first", pool.Next())
}

func TestFromEnv_FailsWithoutKeys(t *testing.T) {
	_, err := keypool.FromEnv("TESTPOOL_MISSING_PREFIX")
	assert.Error(t, err)
}
