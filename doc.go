// Package posepool runs pose-detection inference in a pool of isolated
// worker processes, coordinated over an asynchronous message-passing
// protocol with request/response correlation, per-call timeouts, dependency
// bootstrapping with fallback sources, and crash recovery.
//
// Posepool is designed as a library, not a service. Import it, point it at
// a worker binary, and call Predict from as many goroutines as you like.
//
// # Quick Start
//
//	c, err := posepool.New(
//	    posepool.WithWorkerCommand("poseworker", "--config", "worker.yaml"),
//	    posepool.WithPoolSize(4),
//	)
//	if err != nil { ... }
//	if err := c.Initialize(ctx); err != nil { ... }
//	if err := c.LoadModel(ctx, "MoveNet", nil); err != nil { ... }
//	res, err := c.Predict(ctx, frame)
//
// # Architecture
//
// Each worker is an independent OS process with its own single-threaded
// message loop, reachable only via length-prefixed frames on stdin/stdout —
// no shared memory. The channel package correlates requests to responses by
// id; the pool package owns dispatch, FIFO queueing, and restart of crashed
// workers; the runtime package is the program running inside a worker.
//
// Worker and task IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers. Correlation ids within one channel are a monotonic counter.
package posepool
