// Command liftfleet runs one node of the elevator fleet: it wires the four
// core actors (Lift State Machine, Order Server, Order Distribution,
// Watchdog) to the driver socket, UDP peer discovery, and QUIC RPC
// transport, and blocks until the process receives a termination signal.
// Wiring order and lifecycle mirror the reference project's main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angrycompany16/Network-go/network/localip"
	"github.com/eiannone/keyboard"

	"liftfleet/internal/config"
	"liftfleet/internal/driverio"
	"liftfleet/internal/liftfsm"
	"liftfleet/internal/netpeer"
	"liftfleet/internal/order"
	"liftfleet/internal/orderdist"
	"liftfleet/internal/orderserver"
	"liftfleet/internal/registry"
	"liftfleet/internal/watchdog"
)

const rpcPortOffset = 1000 // RPC listens on the discovery port + this offset

func main() {
	node, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "liftfleet:", err)
		os.Exit(2)
	}

	behavior, err := config.LoadBehavior(node.BehaviorPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "liftfleet:", err)
		os.Exit(2)
	}

	if err := run(node, behavior); err != nil {
		fmt.Fprintln(os.Stderr, "liftfleet:", err)
		os.Exit(1)
	}
}

// The four actors reference each other cyclically (Lift <-> Order Server,
// Order Distribution <-> Watchdog, Order Distribution -> Order Server), so each is
// allocated as a zero-valued pointer first and filled in with its real
// constructor output afterward; every dependency captures the pointer, not
// its contents, so the fill-in order only matters relative to Run/Serve
// actually starting.
func run(node config.Node, behavior config.Behavior) error {
	logger := log.New(os.Stdout, fmt.Sprintf("[%s] ", node.Name), log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driverio.Init(node.DriverAddr, order.NumFloors)

	ip, err := localip.LocalIP()
	if err != nil {
		return fmt.Errorf("resolve local ip: %w", err)
	}
	rpcAddr := fmt.Sprintf("%s:%d", ip, node.Port+rpcPortOffset)

	peers := netpeer.NewRegistry(node.Name, netpeer.Cookie(behavior.ClusterCookie), behavior.WatchdogTimeout(), log.New(os.Stdout, fmt.Sprintf("[%s][discovery] ", node.Name), log.LstdFlags))
	rpcClient := netpeer.NewRPCClient()

	srv := new(orderserver.Server)
	wd := new(watchdog.Watchdog)
	dist := new(orderdist.Distributor)
	sup := &processSupervisor{log: logger}

	lift := liftfsm.New(
		liftfsm.Config{DoorHold: behavior.DoorOpen(), MotionStuck: behavior.MotionStuck()},
		driverio.Driver{},
		&orderServerAsLiftHandle{srv},
		sup,
		log.New(os.Stdout, fmt.Sprintf("[%s][lift] ", node.Name), log.LstdFlags),
	)

	broadcaster := &peerBroadcaster{peers: peers, rpc: rpcClient, localWatchdog: wd, log: logger}

	*srv = *orderserver.New(node.Name, lift, broadcaster, driverioLampAdapter{}, log.New(os.Stdout, fmt.Sprintf("[%s][orders] ", node.Name), log.LstdFlags))
	*wd = *watchdog.New(node.Name, behavior.WatchdogTimeout(), dist, watchdog.NewFileStore(behavior.BackupPath), log.New(os.Stdout, fmt.Sprintf("[%s][watchdog] ", node.Name), log.LstdFlags))
	*dist = *orderdist.New(node.Name, srv, wd, rpcClient, peers, order.NewIDGenerator(node.Name), behavior.AuctionDeadline(), log.New(os.Stdout, fmt.Sprintf("[%s][auction] ", node.Name), log.LstdFlags))

	reg := registry.New(lift, srv, dist, wd, peers, rpcClient)

	if err := reg.Watchdog.Boot(); err != nil {
		logger.Printf("watchdog boot: %v", err)
	}

	handler := &rpcHandler{orderServer: reg.OrderServer, watchdog: reg.Watchdog}
	rpcServer := netpeer.NewRPCServer(handler, log.New(os.Stdout, fmt.Sprintf("[%s][rpc] ", node.Name), log.LstdFlags))

	go reg.Lift.Run(ctx)
	go reg.OrderServer.Run(ctx)
	go reg.Watchdog.Run(ctx)

	go func() {
		if err := rpcServer.Serve(ctx, rpcAddr); err != nil {
			logger.Printf("rpc server: %v", err)
		}
	}()

	stopDiscovery := make(chan struct{})
	go func() {
		if err := reg.Peers.Run(stopDiscovery, node.Port, rpcAddr); err != nil {
			logger.Printf("discovery: %v", err)
		}
	}()
	go relayPeerEvents(reg.Peers, reg.Watchdog)

	buttons := make(chan driverio.ButtonPress)
	floors := make(chan int)
	go driverio.PollButtons(buttons)
	go driverio.PollFloorSensor(floors)
	go dispatchButtons(ctx, buttons, reg.OrderDist)
	go dispatchFloors(ctx, floors, reg.Lift)

	if node.DebugKeyboard {
		go runDebugKeyboard(ctx, reg.OrderDist, logger)
	}

	<-ctx.Done()
	close(stopDiscovery)
	logger.Println("shutting down")
	return nil
}

// orderServerAsLiftHandle narrows *orderserver.Server to the subset of
// methods liftfsm.OrderServerHandle needs, since Server exposes more.
type orderServerAsLiftHandle struct {
	srv *orderserver.Server
}

func (h *orderServerAsLiftHandle) LiftReady() { h.srv.LiftReady() }
func (h *orderServerAsLiftHandle) LiftIdle()  { h.srv.LiftIdle() }
func (h *orderServerAsLiftHandle) UpdateLiftPosition(floor int, dir liftfsm.Direction) {
	h.srv.UpdateLiftPosition(floor, dir)
}
func (h *orderServerAsLiftHandle) OrderComplete(o order.Order) { h.srv.OrderComplete(o) }
func (h *orderServerAsLiftHandle) TerminateLocalQueue()        { h.srv.TerminateLocalQueue() }

type driverioLampAdapter struct{}

func (driverioLampAdapter) SetButtonLamp(bt order.ButtonType, floor int, on bool) {
	driverio.SetButtonLamp(bt, floor, on)
}

// peerBroadcaster fans OrderComplete/WatchdogComplete out to every known
// peer plus the local watchdog, satisfying orderserver.PeerBroadcaster.
type peerBroadcaster struct {
	peers         *netpeer.Registry
	rpc           *netpeer.RPCClient
	localWatchdog *watchdog.Watchdog
	log           *log.Logger
}

func (b *peerBroadcaster) BroadcastOrderComplete(o order.Order) {
	for name, addr := range b.peers.Peers() {
		go func(name, addr string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := b.rpc.OrderComplete(ctx, addr, o); err != nil {
				b.log.Printf("broadcast order_complete to %s failed: %v", name, err)
			}
		}(name, addr)
	}
}

func (b *peerBroadcaster) BroadcastWatchdogComplete(o order.Order) {
	b.localWatchdog.OrderComplete(o)
	for name, addr := range b.peers.Peers() {
		go func(name, addr string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := b.rpc.WatchdogComplete(ctx, addr, o); err != nil {
				b.log.Printf("broadcast watchdog_complete to %s failed: %v", name, err)
			}
		}(name, addr)
	}
}

// rpcHandler answers incoming RPCs by routing to the local Order Server or
// Watchdog, satisfying netpeer.Handler.
type rpcHandler struct {
	orderServer *orderserver.Server
	watchdog    *watchdog.Watchdog
}

func (h *rpcHandler) EvaluateCost(o order.Order) (int, bool, error) {
	return h.orderServer.EvaluateCost(o)
}
func (h *rpcHandler) NewOrder(o order.Order) error         { return h.orderServer.NewOrder(o) }
func (h *rpcHandler) WatchdogNewOrder(o order.Order) error { return h.watchdog.NewOrder(o) }
func (h *rpcHandler) OrderComplete(o order.Order) error {
	h.orderServer.OrderComplete(o)
	return nil
}
func (h *rpcHandler) WatchdogComplete(o order.Order) error {
	h.watchdog.OrderComplete(o)
	return nil
}

// processSupervisor implements liftfsm.Supervisor: on motion-stuck it exits
// the process with status 1 so an external supervisor (out of scope, per §1)
// restarts the binary, re-entering Init.
type processSupervisor struct {
	log *log.Logger
}

func (s *processSupervisor) RequestRestart(reason string) {
	s.log.Printf("requesting process restart: %s", reason)
	os.Exit(1)
}

func relayPeerEvents(peers *netpeer.Registry, wd *watchdog.Watchdog) {
	for ev := range peers.Subscribe() {
		wd.PeerEvent(ev.Peer, ev.Up)
	}
}

func dispatchButtons(ctx context.Context, buttons <-chan driverio.ButtonPress, dist *orderdist.Distributor) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-buttons:
			if err := dist.Submit(b.Floor, b.Type); err != nil {
				log.Printf("submit button press failed: %v", err)
			}
		}
	}
}

func dispatchFloors(ctx context.Context, floors <-chan int, lift *liftfsm.Lift) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-floors:
			lift.AtFloor(f)
			driverio.SetFloorIndicator(f)
		}
	}
}

func runDebugKeyboard(ctx context.Context, dist *orderdist.Distributor, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		char, _, err := keyboard.GetSingleKey()
		if err != nil {
			logger.Printf("debug keyboard read failed: %v", err)
			return
		}
		if char == 'c' || char == 'C' {
			if err := dist.Submit(order.NumFloors-1, order.Cab); err != nil {
				logger.Printf("debug cab call failed: %v", err)
			}
		}
	}
}
