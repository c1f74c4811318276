/*
Package loop is a single-goroutine cooperative event loop that drives the
async-boundary hooks of package storage.

Every unit of deferred work (a next-tick callback, a timer, a promise
reaction) captures the frame current when it is created. When the loop later
runs the unit it enters that frame first and exits it afterwards, so code
running in a callback sees the local-storage values of the task that
scheduled it and never those of whatever ran in between.

Usage:

	l := loop.New()
	span := storage.New[string]("span")
	err := l.Run(ctx, func() {
	    _ = span.Run(l.Stack(), "request-1", func() error {
	        l.After(10*time.Millisecond, func() {
	            v, _ := span.GetStore(l.Stack()) // "request-1"
	        })
	        return nil
	    })
	})

Thread Safety:

Only Post and Hold may be called from other goroutines. Everything else,
promises included, belongs to the loop goroutine.
*/
package loop
