// Package async runs independent units of work concurrently.
package async

import (
	"context"
	"fmt"
	"sync"
)

// Task is a named unit of work for Pool.Execute.
type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

// Result holds the outcome of one task, keyed by its name.
type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool fans a fixed set of tasks out over a bounded number of workers.
// A Pool is single-use: create a new one per Execute call.
type Pool struct {
	workerCount int
	tasks       chan Task
	results     chan Result
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		tasks:       make(chan Task),
		results:     make(chan Result),
	}
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			data, err := run(task)
			select {
			case p.results <- Result{Name: task.Name, Data: data, Err: err}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// run isolates a panicking task so its siblings still complete.
func run(task Task) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Execute()
}

// Execute runs every task and waits for all of them, or for ctx to end.
// Tasks that did not report before cancellation are missing from the map.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	var wg sync.WaitGroup
	results := make(map[string]Result, len(tasks))

	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg)
	}

	go func() {
		defer close(p.tasks)
		for _, task := range tasks {
			select {
			case p.tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < len(tasks); i++ {
		select {
		case result := <-p.results:
			results[result.Name] = result
		case <-ctx.Done():
			wg.Wait()
			return results
		}
	}

	wg.Wait()
	close(p.results)

	return results
}
