// Package errors classifies failures for the subscriber.
//
// # Classes
//
// Every error falls into one of three classes:
//
//   - Transient: connection timeouts and temporary unavailability (retry recommended)
//   - Invalid: malformed payloads, bad configuration (do not retry)
//   - Fatal: the transport is gone or the process cannot continue
//
// # Subscriber taxonomy
//
// The dispatch loop distinguishes four outcomes:
//
//   - ErrNoData: a drain found nothing pending. Expected, never surfaced.
//   - ConsumerFault: the consumer failed on a record. Recovered, sent to the error sink.
//   - ErrTransportFault: wait or drain cannot make progress. Propagated to the caller.
//   - ErrSpuriousWake: a condition triggered without DATA_AVAILABLE set. Ignored.
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: cause":
//
//	if err := ep.ReturnLoan(batch); err != nil {
//	    return errors.WrapTransportFault(err, "Loop", "drain", "return loan")
//	}
//
// Wrapped errors keep their cause, so errors.Is and errors.As work through
// the chain.
package errors
