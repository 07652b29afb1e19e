package transport

import (
	stderrors "errors"

	"github.com/khtad/hello-openice/errors"
)

// Error values returned by endpoints and transports.
var (
	// ErrNoData is returned by Drain when nothing is pending. It is not a failure.
	ErrNoData = errors.ErrNoData

	ErrLoanOutstanding = stderrors.New("previous loan not returned")
	ErrLoanMismatch    = stderrors.New("batch is not the outstanding loan of this endpoint")
	ErrEndpointClosed  = stderrors.New("endpoint closed")
	ErrTransportClosed = stderrors.New("transport closed")
)
