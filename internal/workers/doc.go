/*
Package workers runs fingerprint extraction on a bounded, auto-scaling pool.

# Sizing

Count sizes a pool for a Workload (CPUBound, IOBound or Mixed) from GOMAXPROCS,
which follows container CPU limits, rather than runtime.NumCPU. The
IMGCAT_WORKERS environment variable overrides the computed value.

# Pool

Pool[T] executes Task[T] values and hands back a Future[T] per submission:

	pool, err := workers.NewPool[fingerprint.Result](cfg, sampler)
	fut, err := pool.Submit(ctx, workers.Task[fingerprint.Result]{ID: path, Run: extract})
	res, err := fut.Wait(ctx)

Behaviour:
  - The pool starts at MinWorkers and never exceeds MaxWorkers.
  - Tasks queue FIFO. When no worker is idle a new one is spawned if the
    pool is below MaxWorkers.
  - A task running past its timeout resolves with ErrTaskTimeout. Its
    worker stays busy until the function returns, or is recycled after
    RecycleGrace.
  - Every ScaleInterval the pool computes
    load = clamp((min(queue/10, 1) + busy/size) / 2, 0, 1) and grows by one
    when load or CPU is above its threshold and memory is below
    MemoryCeiling. It shrinks by one idle worker when both are under half
    their thresholds.
  - Workers idle for IdleTimeout exit while the pool is above MinWorkers.
  - A panicking task resolves with *WorkerCrashError. The worker is
    dropped and replaced if the pool fell below MinWorkers or queued work
    has nobody to run it.
  - Shutdown rejects queued tasks with ErrPoolShuttingDown, waits for
    in-flight ones up to ShutdownGrace, then force-resolves the rest.
*/
package workers
