package client

import (
	"context"

	"github.com/kaulonline/iriseller-mobile/internal/taskqueue"
)

// executor abstracts the background job runner shared by the gateway and the
// ledger.
type executor interface {
	Submit(context.Context, string, taskqueue.Job) error
	Barrier(context.Context, string) error
	Stop()
}
