package tracker

import (
	"context"

	"github.com/Quantus-Network/miner-console/internal/rpcclient"
)

// Caller is the slice of the RPC client both trackers consume.
type Caller interface {
	SubscribeNewHeads(ctx context.Context) (*rpcclient.HeadSubscription, error)
	Health(ctx context.Context) (rpcclient.Health, error)
	SyncState(ctx context.Context) (rpcclient.SyncState, error)
	FinalizedHead(ctx context.Context) (string, error)
	HeaderByHash(ctx context.Context, hash string) (rpcclient.Header, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// DialFunc opens a connection to an RPC endpoint.
type DialFunc func(ctx context.Context) (Caller, error)

// Dialer returns a DialFunc for the given websocket URL.
func Dialer(url string) DialFunc {
	return func(ctx context.Context) (Caller, error) {
		return rpcclient.Dial(ctx, url)
	}
}
