package queue

import "context"

// Handler processes one claimed task. A nil return acknowledges the task;
// an error triggers retry with backoff until the task's attempt budget is
// exhausted, after which the task is marked failed.
type Handler interface {
	Handle(ctx context.Context, task DispatchedTask) error
}

type HandlerFunc func(ctx context.Context, task DispatchedTask) error

func (f HandlerFunc) Handle(ctx context.Context, task DispatchedTask) error {
	return f(ctx, task)
}
