package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/executor"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/ratelimit"
)

// DefaultMaxAttempts is the per-request execution attempt limit.
const DefaultMaxAttempts = 3

// batchPacing is the delay between consecutive batch items.
const batchPacing = time.Second

// Runner orchestrates a single request: cache lookup, quota admission,
// execution with retry and exponential backoff, and usage recording.
type Runner struct {
	limiter     *ratelimit.Limiter
	cache       *cache.Cache
	exec        executor.Executor
	maxAttempts int

	// sleep is swapped out in tests.
	sleep func(time.Duration)

	// group collapses identical cacheable requests that are in flight at
	// the same time into one execution.
	group singleflight.Group
}

// New creates a Runner. cache may be nil to disable memoization entirely.
func New(limiter *ratelimit.Limiter, c *cache.Cache, exec executor.Executor, maxAttempts int) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		limiter:     limiter,
		cache:       c,
		exec:        exec,
		maxAttempts: maxAttempts,
		sleep:       time.Sleep,
	}
}

// Run executes one request and always returns a well-formed Result, even on
// failure. Cached answers bypass the quota and retry machinery entirely.
func (r *Runner) Run(ctx context.Context, prompt string, extraFlags []string, useCache bool) models.Result {
	// A caller giving up must not kill the external command or skip the
	// quota bookkeeping; the executor's hard timeout is the only
	// cancellation. Otherwise a client disconnect would leave the
	// reservation unreleased, occupying a slot for up to an hour.
	ctx = context.WithoutCancel(ctx)

	fp := cache.Fingerprint(prompt, extraFlags)

	if useCache && r.cache != nil {
		if res, ok := r.cache.Get(fp); ok {
			res.FromCache = true
			return res
		}
		// Identical cacheable requests in flight share one execution.
		v, _, _ := r.group.Do(fp, func() (any, error) {
			return r.execute(ctx, fp, prompt, extraFlags, true), nil
		})
		return v.(models.Result)
	}

	return r.execute(ctx, fp, prompt, extraFlags, false)
}

func (r *Runner) execute(ctx context.Context, fp, prompt string, extraFlags []string, useCache bool) models.Result {
	reservation, wait, err := r.limiter.Reserve(ctx)
	if err != nil {
		return models.Result{Error: fmt.Sprintf("rate limiter: %v", err)}
	}
	if reservation == nil {
		waitSeconds := int(wait / time.Second)
		if waitSeconds < 1 {
			waitSeconds = 1
		}
		return models.Result{
			Error:       fmt.Sprintf("rate limit reached, retry in %d seconds", waitSeconds),
			WaitSeconds: waitSeconds,
			Usage:       r.usageSnapshot(ctx),
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			// Exponential backoff: 2s, 4s, 8s, ...
			r.sleep(time.Duration(1<<(attempt-1)) * time.Second)
		}

		output, execErr := r.exec.Execute(ctx, prompt, extraFlags)
		if execErr == nil {
			if err := reservation.Commit(ctx, fp, len(output)); err != nil {
				log.Printf("record request: %v", err)
			}
			res := models.Result{
				Success:  true,
				Output:   output,
				Attempts: attempt,
				Usage:    r.usageSnapshot(ctx),
			}
			if useCache && r.cache != nil {
				r.cache.Put(fp, res)
			}
			return res
		}
		lastErr = execErr
	}

	// All attempts failed: refund the quota slot.
	if err := reservation.Release(ctx); err != nil {
		log.Printf("release reservation: %v", err)
	}
	return models.Result{
		Error: fmt.Sprintf("failed after %d attempts: %v", r.maxAttempts, lastErr),
		Usage: r.usageSnapshot(ctx),
	}
}

// RunBatch processes prompts sequentially, re-checking the limiter before
// each item and sleeping out the advertised wait when the window is full.
func (r *Runner) RunBatch(ctx context.Context, prompts []string) []models.Result {
	results := make([]models.Result, 0, len(prompts))

	for i, prompt := range prompts {
		log.Printf("batch: processing prompt %d/%d", i+1, len(prompts))

		ok, wait, err := r.limiter.Admit(ctx)
		if err != nil {
			log.Printf("batch: admit probe: %v", err)
		} else if !ok {
			log.Printf("batch: rate limit reached, waiting %s", wait)
			r.sleep(wait)
		}

		results = append(results, r.Run(ctx, prompt, nil, true))

		if i < len(prompts)-1 {
			r.sleep(batchPacing)
		}
	}
	return results
}

func (r *Runner) usageSnapshot(ctx context.Context) *models.UsageStats {
	usage, err := r.limiter.Stats(ctx)
	if err != nil {
		log.Printf("usage snapshot: %v", err)
		return nil
	}
	return &usage
}
