// Package async provides a small bounded worker pool for fanning out
// independent store queries and per-profile aggregation passes.
package async

import (
	"context"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) (interface{}, error)
}

type Result struct {
	Name string
	Data interface{}
	Err  error
}

type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs all tasks with at most workerCount running concurrently and
// returns results keyed by task name. Cancellation is honored between
// tasks: once ctx is done, unstarted tasks are returned with ctx.Err().
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				if err := ctx.Err(); err != nil {
					resultCh <- Result{Name: task.Name, Err: err}
					continue
				}
				data, err := task.Execute(ctx)
				resultCh <- Result{Name: task.Name, Data: data, Err: err}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			taskCh <- task
		}
	}()

	results := make(map[string]Result, len(tasks))
	for i := 0; i < len(tasks); i++ {
		r := <-resultCh
		results[r.Name] = r
	}
	wg.Wait()

	return results
}
