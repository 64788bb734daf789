// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package template

import "container/heap"

// item pairs a mempool entry with the fee-rate figure the builder orders
// by. Kept separate from mempool.Entry so the priority queue can be reused
// for either per-transaction or per-package fee rate without mempool.Entry
// growing a queue-index field it otherwise has no use for.
type item struct {
	entry    *txCandidate
	feeRate  int64
	index    int
}

// queue is a max-heap of candidate transactions ordered by descending fee
// rate, the same container/heap.Interface shape as the teacher's
// mining.txPriorityQueue, generalized from a single fixed compare function
// to whatever feeRate the caller attached to each item (descendant-package
// fee rate here, rather than the teacher's flat FeePerKB, so a parent
// carrying a high-fee child ranks by the package).
type queue struct {
	items []*item
}

func newQueue(reserve int) *queue {
	q := &queue{items: make([]*item, 0, reserve)}
	heap.Init(q)
	return q
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	return q.items[i].feeRate > q.items[j].feeRate
}

func (q *queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *queue) Push(x interface{}) {
	it := x.(*item)
	it.index = len(q.items)
	q.items = append(q.items, it)
}

func (q *queue) Pop() interface{} {
	n := len(q.items)
	it := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return it
}
