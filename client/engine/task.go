package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"
)

// TaskFunc is one unit of work of a simulated user.
type TaskFunc func(ctx context.Context) error

// Task is a named TaskFunc with a relative selection weight.
type Task struct {
	Name   string
	Weight int
	Run    TaskFunc
}

// TaskSet picks tasks with a probability proportional to their weight.
type TaskSet struct {
	tasks      []Task
	cumulative []int
	total      int
}

// NewTaskSet validates the tasks and precomputes the cumulative weights.
func NewTaskSet(tasks ...Task) (*TaskSet, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	s := &TaskSet{
		tasks:      make([]Task, len(tasks)),
		cumulative: make([]int, len(tasks)),
	}

	for i, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("task %d: missing name", i)
		}

		if t.Weight <= 0 {
			return nil, fmt.Errorf("task %q: weight must be positive, got %d", t.Name, t.Weight)
		}

		if t.Run == nil {
			return nil, fmt.Errorf("task %q: missing function", t.Name)
		}

		s.total += t.Weight
		s.tasks[i] = t
		s.cumulative[i] = s.total
	}

	return s, nil
}

// Pick draws one task.
func (s *TaskSet) Pick(r *rand.Rand) Task {
	n := r.IntN(s.total) + 1
	idx := sort.SearchInts(s.cumulative, n)

	return s.tasks[idx]
}

// Tasks returns a copy of the configured tasks.
func (s *TaskSet) Tasks() []Task {
	return append([]Task(nil), s.tasks...)
}

// TotalWeight is the sum of all task weights.
func (s *TaskSet) TotalWeight() int {
	return s.total
}

// ThinkTime returns a uniformly distributed pause in [minWait, maxWait].
func ThinkTime(r *rand.Rand, minWait, maxWait time.Duration) time.Duration {
	if maxWait <= minWait {
		return max(minWait, 0)
	}

	return minWait + time.Duration(r.Int64N(int64(maxWait-minWait)+1))
}
