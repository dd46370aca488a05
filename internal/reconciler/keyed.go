// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package reconciler

import (
	"hash/fnv"
	"sync"
)

// keyedExecutor serializes work per key while letting different keys
// proceed in parallel. Inbound sync messages for the same vehicle must
// apply in arrival order (an update overtaking a delete would resurrect the
// vehicle); messages for different vehicles have no ordering relationship.
type keyedExecutor struct {
	workers []chan func()
	wg      sync.WaitGroup
	once    sync.Once
}

func newKeyedExecutor(workers int) *keyedExecutor {
	if workers <= 0 {
		workers = 4
	}
	e := &keyedExecutor{workers: make([]chan func(), workers)}
	for i := range e.workers {
		ch := make(chan func(), 64)
		e.workers[i] = ch
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for fn := range ch {
				fn()
			}
		}()
	}
	return e
}

// submit runs fn on the worker owning key, after all previously submitted
// work for that key.
func (e *keyedExecutor) submit(key string, fn func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	e.workers[int(h.Sum32())%len(e.workers)] <- fn
}

// close drains the workers and waits for in-flight work.
func (e *keyedExecutor) close() {
	e.once.Do(func() {
		for _, ch := range e.workers {
			close(ch)
		}
	})
	e.wg.Wait()
}
