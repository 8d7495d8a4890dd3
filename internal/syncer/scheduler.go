package syncer

import (
	"errors"
	"sync"

	"github.com/rbroderi/ysaqml/internal/workpool"
)

// forEachTable runs op(i) for every table index. With more than one
// worker the operations fan out over the pool; if the pool refuses
// submissions the whole batch reruns strictly sequentially. Per-table
// results land at the submitter's index regardless of execution order.
func (s *synchronizer) forEachTable(n int, op func(int) error) error {
	if n == 0 {
		return nil
	}
	if s.workers <= 1 {
		return runSerial(n, op)
	}

	done, err := s.runParallel(n, op)
	if done {
		return err
	}
	s.logger.Printf("debug: worker pool unavailable; falling back to sequential execution")
	return runSerial(n, op)
}

func runSerial(n int, op func(int) error) error {
	for i := 0; i < n; i++ {
		if err := op(i); err != nil {
			return err
		}
	}
	return nil
}

// runParallel fans the batch out over the pool. The returned bool is
// false only when a submission was refused with workpool.ErrClosed; the
// caller then reruns the entire batch serially. Task errors (done=true)
// propagate as-is and abort the operation.
func (s *synchronizer) runParallel(n int, op func(int) error) (done bool, err error) {
	pool := s.pool
	if pool == nil {
		p, perr := workpool.New(s.workers)
		if perr != nil {
			return true, perr
		}
		defer p.Close()
		pool = p
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		serr := pool.Submit(func() {
			defer wg.Done()
			errs[i] = op(i)
		})
		if serr != nil {
			wg.Done()
			// Wait out what was already submitted before deciding; the
			// serial rerun must not overlap in-flight tasks.
			wg.Wait()
			if errors.Is(serr, workpool.ErrClosed) {
				return false, nil
			}
			return true, serr
		}
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return true, e
		}
	}
	return true, nil
}
