// Package liftfsm drives one physical cab. It owns the cab's floor and
// direction, serves one active order at a time, and is the single actor
// that drives the motor and the door lamp. Adapted from the reference
// project's elev_al_go package (fsm.go, elevator.go, requests.go), run as a
// message-driven actor instead of mutating a package-level ThisElevator,
// and extended with the explicit Init state the spec requires. The
// direction/service simulation (chooseDirection, shouldStop, clearAtFloor)
// is not used here: it lives in internal/orderserver's cost function.
package liftfsm

import (
	"context"
	"errors"
	"log"
	"time"

	"liftfleet/internal/order"
	"liftfleet/internal/timerutil"
)

// ErrNotReady is returned by NewOrder and GetPosition while the lift has not
// yet discovered its floor.
var ErrNotReady = errors.New("liftfsm: not ready")

type State int

const (
	StateInit State = iota
	StateIdle
	StateDoorOpen
	StateMoving
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateDoorOpen:
		return "door_open"
	case StateMoving:
		return "moving"
	default:
		return "unknown"
	}
}

type Direction int

const (
	Down Direction = -1
	Stop Direction = 0
	Up   Direction = 1
)

// Driver is the hardware boundary: motor and door lamp control. Button
// lamps and floor/button polling are owned by the OrderServer and the
// process wiring respectively, not by the lift actor.
type Driver interface {
	SetMotorDirection(dir Direction)
	SetDoorOpenLamp(on bool)
}

// OrderServerHandle is the lift's only path back to the rest of the system.
type OrderServerHandle interface {
	LiftReady()
	// LiftIdle is called every time the lift finishes an order and has
	// nothing else to do, not just once at boot, so the Order Server's own
	// view of lift state never goes stale after the first order.
	LiftIdle()
	UpdateLiftPosition(floor int, dir Direction)
	OrderComplete(o order.Order)
	// TerminateLocalQueue is called on motion-stuck recovery: the local
	// Order Server is torn down so supervision restarts it with a clean
	// queue.
	TerminateLocalQueue()
}

// Supervisor is the process-level restart hook: on an unrecoverable local
// fault (motion-stuck), the Lift asks the process to exit so an external
// supervisor restarts the binary, re-entering Init.
type Supervisor interface {
	RequestRestart(reason string)
}

// Config holds the two timing constants the spec fixes: the door-hold
// interval and the motion-stuck deadline.
type Config struct {
	DoorHold    time.Duration
	MotionStuck time.Duration
}

func DefaultConfig() Config {
	return Config{DoorHold: 2 * time.Second, MotionStuck: 3 * time.Second}
}

type positionReply struct {
	floor int
	dir   Direction
	err   error
}

type atFloorMsg struct{ floor int }
type newOrderMsg struct {
	o     order.Order
	reply chan error
}
type getPositionMsg struct{ reply chan positionReply }
type doorTimeoutMsg struct{}
type motionStuckMsg struct{}

// Lift is the actor. Construct with New and run with Run in its own
// goroutine; all other interaction happens through the exported methods,
// which are safe to call concurrently and simply enqueue a message.
type Lift struct {
	cfg        Config
	driver     Driver
	srv        OrderServerHandle
	supervisor Supervisor
	log        *log.Logger

	inbox chan any

	state State
	floor *int
	dir   Direction
	order *order.Order

	doorTimer   *timerutil.Handle
	motionTimer *timerutil.Handle
}

func New(cfg Config, driver Driver, srv OrderServerHandle, supervisor Supervisor, logger *log.Logger) *Lift {
	return &Lift{
		cfg:        cfg,
		driver:     driver,
		srv:        srv,
		supervisor: supervisor,
		log:        logger,
		inbox:      make(chan any, 16),
		state:      StateInit,
		dir:        Stop,
	}
}

// Run processes messages until ctx is cancelled. It must be started in its
// own goroutine; all state mutation happens here, on a single goroutine, so
// no locking is needed internally.
func (l *Lift) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.doorTimer.Cancel()
			l.motionTimer.Cancel()
			return
		case m := <-l.inbox:
			switch msg := m.(type) {
			case atFloorMsg:
				l.handleAtFloor(msg.floor)
			case newOrderMsg:
				msg.reply <- l.handleNewOrder(msg.o)
			case getPositionMsg:
				msg.reply <- l.handleGetPosition()
			case doorTimeoutMsg:
				l.handleDoorTimeout()
			case motionStuckMsg:
				l.handleMotionStuck()
			}
		}
	}
}

// AtFloor is the asynchronous notification from the floor sensor poller.
func (l *Lift) AtFloor(floor int) {
	l.inbox <- atFloorMsg{floor: floor}
}

// NewOrder hands the lift a freshly assigned order. Rejected with
// ErrNotReady while the lift hasn't discovered its floor yet.
func (l *Lift) NewOrder(o order.Order) error {
	reply := make(chan error, 1)
	l.inbox <- newOrderMsg{o: o, reply: reply}
	return <-reply
}

// GetPosition returns the lift's last-known floor and direction.
func (l *Lift) GetPosition() (int, Direction, error) {
	reply := make(chan positionReply, 1)
	l.inbox <- getPositionMsg{reply: reply}
	r := <-reply
	return r.floor, r.dir, r.err
}

func (l *Lift) handleAtFloor(f int) {
	if l.state == StateInit {
		l.driver.SetMotorDirection(Stop)
		l.floor = &f
		l.state = StateIdle
		l.srv.LiftReady()
		return
	}

	l.motionTimer.Cancel()
	l.floor = &f
	l.srv.UpdateLiftPosition(f, l.dir)

	if l.order != nil && l.order.Floor == f {
		l.enterDoorOpen()
		return
	}

	// Not there yet: keep moving in the same direction and rearm the
	// motion-stuck deadline.
	l.driver.SetMotorDirection(l.dir)
	l.armMotionTimer()
}

func (l *Lift) handleNewOrder(o order.Order) error {
	if l.state == StateInit {
		return ErrNotReady
	}
	if l.state != StateIdle {
		// The Order Server hands orders over while its own view of the
		// lift is idle, and that view can lag (it stays idle while the door
		// is open at the current floor). Such an order is not taken here;
		// it stays in the Order Server's queue, which hands queued orders
		// over again when the current one completes.
		return nil
	}

	l.order = &o
	if o.Floor == *l.floor {
		l.enterDoorOpen()
		return nil
	}

	if o.Floor > *l.floor {
		l.dir = Up
	} else {
		l.dir = Down
	}
	l.enterMoving()
	return nil
}

func (l *Lift) handleGetPosition() positionReply {
	if l.state == StateInit || l.floor == nil {
		return positionReply{err: ErrNotReady}
	}
	return positionReply{floor: *l.floor, dir: l.dir}
}

func (l *Lift) handleDoorTimeout() {
	if l.state != StateDoorOpen {
		return
	}
	completed := l.order
	l.order = nil
	l.state = StateIdle
	l.driver.SetMotorDirection(Stop)
	l.driver.SetDoorOpenLamp(false)
	l.srv.LiftIdle()
	if completed != nil {
		l.srv.OrderComplete(*completed)
	}
}

func (l *Lift) handleMotionStuck() {
	if l.state != StateMoving {
		return
	}
	l.log.Printf("motion-stuck timeout at last known floor %v, dir %v; reasserting motion", l.floor, l.dir)
	l.driver.SetMotorDirection(l.dir)
	l.armMotionTimer()
	// The local Order Server's queue is cleared (it keeps answering bids)
	// and the process supervisor is notified. The production Supervisor
	// exits the process, which takes this node out of auctions until an
	// external restarter re-enters Init with a clean queue; the FSM
	// itself does not stop running here, so a Supervisor that chooses not
	// to exit still resumes normal service on the very next AtFloor.
	l.srv.TerminateLocalQueue()
	l.supervisor.RequestRestart("motion-stuck")
}

func (l *Lift) enterDoorOpen() {
	l.state = StateDoorOpen
	l.driver.SetMotorDirection(Stop)
	l.driver.SetDoorOpenLamp(true)
	l.doorTimer.Cancel()
	l.doorTimer = timerutil.AfterFunc(l.cfg.DoorHold, func() {
		l.inbox <- doorTimeoutMsg{}
	})
}

func (l *Lift) enterMoving() {
	l.state = StateMoving
	l.driver.SetDoorOpenLamp(false)
	l.srv.UpdateLiftPosition(*l.floor, l.dir)
	l.driver.SetMotorDirection(l.dir)
	l.armMotionTimer()
}

func (l *Lift) armMotionTimer() {
	l.motionTimer.Cancel()
	l.motionTimer = timerutil.AfterFunc(l.cfg.MotionStuck, func() {
		l.inbox <- motionStuckMsg{}
	})
}
