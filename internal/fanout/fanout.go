// Package fanout implements the bounded-deadline parallel-call helper the
// spec's Design Notes ask for in place of the reference system's dynamic
// peer dispatch ("multi_call"): an explicit fan-out that takes a peer list
// and a deadline and collects the (peer, reply) outcomes that arrive in
// time; peers that time out or fail are left out of the result.
package fanout

import (
	"context"
	"time"
)

// Result pairs a peer with its outcome. Ok reports whether the call
// returned without error. Call only returns results with Ok set: peers
// whose call failed or hadn't returned by the deadline are silently
// dropped, per the spec's transient-network error handling.
type Result[P any, R any] struct {
	Peer P
	Reply R
	Ok    bool
}

// Call collects call(peer) for every peer in peers, waiting at most
// deadline in total. Late replies are abandoned (their goroutines still run
// to completion but their results are discarded) — this bounds the caller's
// wait without leaking correctness, since results is only read via the
// channel each goroutine writes into.
func Call[P any, R any](ctx context.Context, peers []P, deadline time.Duration, call func(context.Context, P) (R, error)) []Result[P, R] {
	type indexed struct {
		idx    int
		result Result[P, R]
	}

	ch := make(chan indexed, len(peers))
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for i, p := range peers {
		go func(i int, p P) {
			reply, err := call(callCtx, p)
			ch <- indexed{idx: i, result: Result[P, R]{Peer: p, Reply: reply, Ok: err == nil}}
		}(i, p)
	}

	out := make([]Result[P, R], 0, len(peers))
	timeout := time.After(deadline)
	for range peers {
		select {
		case r := <-ch:
			if r.result.Ok {
				out = append(out, r.result)
			}
		case <-timeout:
			return out
		case <-ctx.Done():
			return out
		}
	}
	return out
}
