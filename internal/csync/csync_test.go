// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package csync

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapBasicOperations(t *testing.T) {
	m := NewMap[string, int]()

	_, ok := m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	m.Set("a", 1)
	m.Set("b", 2)
	assert.Equal(t, 2, m.Len())

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	m.Set("a", 10)
	v, _ = m.Get("a")
	assert.Equal(t, 10, v)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())

	// Deleting a missing key is a no-op.
	m.Delete("missing")
	assert.Equal(t, 1, m.Len())
}

func TestMapConcurrentAccess(t *testing.T) {
	m := NewMap[string, int]()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			m.Set(key, i)
			if v, ok := m.Get(key); ok {
				assert.Equal(t, i, v)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, m.Len())
}

func TestMapSeq2(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	sum := 0
	seen := 0
	for _, v := range m.Seq2() {
		sum += v
		seen++
	}
	assert.Equal(t, 6, sum)
	assert.Equal(t, 3, seen)

	// Early break stops iteration without deadlocking.
	count := 0
	for range m.Seq2() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
