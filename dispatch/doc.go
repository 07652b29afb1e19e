// Package dispatch runs the subscriber loop: wait on the readiness of every
// endpoint, drain the ones with data, hand valid samples to a consumer and
// return each loan before waiting again.
//
// Consumer errors and panics are recovered and reported to an ErrorSink; the
// rest of that batch is skipped but the loan still goes back. Only transport
// faults end Run.
//
//	loop, _ := dispatch.New(router, dispatch.WithLogger(logger))
//	_ = loop.Add(numeric)
//	_ = loop.Add(waveform)
//	err := loop.Run(ctx)
package dispatch
