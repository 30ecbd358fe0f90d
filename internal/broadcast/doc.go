// Package broadcast provides the change notifier for the conversation store.
//
// A Notifier is constructed explicitly and passed to whatever mutates the
// store; there is no package-level instance. Subscribers register a Handler
// and receive every ChangeEvent published after they subscribe. There is no
// replay of earlier events.
//
// Publish is synchronous: handlers run in subscription order on the
// publisher's goroutine. A handler that returns an error or panics is logged
// and the remaining handlers still run.
//
// Consumers living on their own goroutine can use Watch instead, which
// buffers up to 64 events per watcher and drops events for watchers that
// fall behind:
//
//	events, _ := notifier.Watch(ctx)
//	for ev := range events {
//		refreshList(ev)
//	}
package broadcast
