package go_func_utils

import (
	"bytes"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeGoWG_WaitsForCompletion(t *testing.T) {
	logger := log.New(&bytes.Buffer{}, "", 0)
	var wg sync.WaitGroup

	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		SafeGoWG(logger, &wg, func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Equal(t, 10, count)
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	ok := Recover(logger, "Result", func() {
		var m map[string]int
		m["boom"] = 1
	})
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "Result: recovered from panic")

	ran := false
	assert.True(t, Recover(logger, "Result", func() { ran = true }))
	assert.True(t, ran)
}
