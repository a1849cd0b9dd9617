package repositories

import "context"

type commitHooksKey struct{}

type commitHooks struct {
	fns []func(context.Context)
}

// RunWithCommitHooks runs fn through run and fires the work queued with
// AfterCommit once the outermost call returns nil. Hooks queued by an attempt
// that is retried or rolled back are discarded.
func RunWithCommitHooks(ctx context.Context, run func(context.Context, func(context.Context) error) error, fn func(context.Context) error) error {
	if _, nested := ctx.Value(commitHooksKey{}).(*commitHooks); nested {
		return run(ctx, fn)
	}
	hooks := &commitHooks{}
	err := run(context.WithValue(ctx, commitHooksKey{}, hooks), func(txCtx context.Context) error {
		hooks.fns = hooks.fns[:0]
		return fn(txCtx)
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks.fns {
		hook(ctx)
	}
	return nil
}

// AfterCommit queues hook until the surrounding unit of work commits. Outside
// a unit of work it runs immediately.
func AfterCommit(ctx context.Context, hook func(context.Context)) {
	if hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, hook)
		return
	}
	hook(ctx)
}
