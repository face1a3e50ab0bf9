package testutil

import (
	"errors"
	"sync"

	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/sentinel"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes   int32
	Unavailable int32
	Errors      int32

	// ByCode counts failures by their outermost domain code. Plain errors are not counted.
	ByCode map[dErrors.Code]int32
	// Errs holds every failure in completion order.
	Errs []error
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Unavailable + r.Errors
}

// RunConcurrent starts fn in n goroutines, releases them together and waits for all.
// Releasing behind a barrier makes first-caller races such as lazy initialization
// actually overlap.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		start  = make(chan struct{})
		result = &ConcurrentResult{ByCode: make(map[dErrors.Code]int32)}
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				result.Successes++
				return
			}
			result.Errs = append(result.Errs, err)
			var domainErr *dErrors.Error
			if errors.As(err, &domainErr) {
				result.ByCode[domainErr.Code]++
			}
			if errors.Is(err, sentinel.ErrUnavailable) {
				result.Unavailable++
			} else {
				result.Errors++
			}
		}(i)
	}

	close(start)
	wg.Wait()
	return result
}
