// Package registry replaces the reference project's package-level globals
// (order_distribution, watch_dog, order_server, Lift_FSM) with a single
// struct of handles built once at startup, after the actors themselves
// have been constructed, per the distilled spec's design notes on ambient
// global state.
package registry

import (
	"liftfleet/internal/liftfsm"
	"liftfleet/internal/netpeer"
	"liftfleet/internal/orderdist"
	"liftfleet/internal/orderserver"
	"liftfleet/internal/watchdog"
)

// Registry holds this node's four actors and its network collaborators.
// Nothing here is a package-level var; cmd/liftfleet builds one and threads
// it through explicitly.
type Registry struct {
	Lift        *liftfsm.Lift
	OrderServer *orderserver.Server
	OrderDist   *orderdist.Distributor
	Watchdog    *watchdog.Watchdog
	Peers       *netpeer.Registry
	RPCClient   *netpeer.RPCClient
}

// New assembles a Registry from already-constructed actors. The actors
// reference each other cyclically, so cmd/liftfleet allocates their
// pointers first, fills each one in with its constructor's output, and
// only then calls New, rather than New constructing them itself.
func New(lift *liftfsm.Lift, srv *orderserver.Server, dist *orderdist.Distributor, wd *watchdog.Watchdog, peers *netpeer.Registry, rpc *netpeer.RPCClient) *Registry {
	return &Registry{
		Lift:        lift,
		OrderServer: srv,
		OrderDist:   dist,
		Watchdog:    wd,
		Peers:       peers,
		RPCClient:   rpc,
	}
}
