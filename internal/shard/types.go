package shard

import "context"

// task is one unit of work submitted to a Shard's command loop. Every
// task runs to completion before the next is dequeued, which is what makes
// the shard "logically single-writer over its local Peer Registry" (§5):
// per-peer registry mutations never interleave with each other.
type task struct {
	fn   func(ctx context.Context) (interface{}, error)
	done chan taskResult
}

type taskResult struct {
	val interface{}
	err error
}
