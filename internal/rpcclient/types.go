package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HexUint decodes a block number that may arrive as a 0x-prefixed hex
// string or as a bare JSON number.
type HexUint uint64

// UnmarshalJSON implements json.Unmarshaler.
func (h *HexUint) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*h = 0
		return nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return fmt.Errorf("parse block number %q: %w", s, err)
	}
	*h = HexUint(v)
	return nil
}

// Header is the subset of a chain header the console needs.
type Header struct {
	Number     HexUint `json:"number"`
	ParentHash string  `json:"parentHash"`
}

// Health is the node's own liveness report.
type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// SyncState is the node's sync progress estimate.
type SyncState struct {
	StartingBlock HexUint `json:"startingBlock"`
	CurrentBlock  HexUint `json:"currentBlock"`
	HighestBlock  HexUint `json:"highestBlock"`
}

// SubscribeNewHeads subscribes to the node's new-head stream.
func (c *Client) SubscribeNewHeads(ctx context.Context) (*HeadSubscription, error) {
	sub, err := c.Subscribe(ctx, "chain_subscribeNewHeads", "chain_unsubscribeNewHeads", nil)
	if err != nil {
		return nil, err
	}

	heads := make(chan Header, 16)
	hs := &HeadSubscription{C: heads, sub: sub}
	go func() {
		defer close(heads)
		for raw := range sub.C {
			var h Header
			if err := json.Unmarshal(raw, &h); err != nil {
				continue
			}
			select {
			case heads <- h:
			default:
			}
		}
	}()
	return hs, nil
}

// HeadSubscription delivers decoded headers from a new-head stream.
type HeadSubscription struct {
	// C is closed when the stream ends, including on transport failure.
	C <-chan Header

	sub *Subscription
}

// Unsubscribe stops the stream.
func (h *HeadSubscription) Unsubscribe() {
	if h.sub != nil {
		h.sub.Unsubscribe()
	}
}

// Health queries system_health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.Call(ctx, "system_health", nil, &h)
	return h, err
}

// SyncState queries system_syncState.
func (c *Client) SyncState(ctx context.Context) (SyncState, error) {
	var s SyncState
	err := c.Call(ctx, "system_syncState", nil, &s)
	return s, err
}

// FinalizedHead queries chain_getFinalizedHead and returns the block hash.
func (c *Client) FinalizedHead(ctx context.Context) (string, error) {
	var hash string
	err := c.Call(ctx, "chain_getFinalizedHead", nil, &hash)
	return hash, err
}

// HeaderByHash queries chain_getHeader for the given block hash.
func (c *Client) HeaderByHash(ctx context.Context, hash string) (Header, error) {
	var h *Header
	if err := c.Call(ctx, "chain_getHeader", []interface{}{hash}, &h); err != nil {
		return Header{}, err
	}
	if h == nil {
		return Header{}, fmt.Errorf("chain_getHeader: unknown block %s", hash)
	}
	return *h, nil
}
