// Package driverio adapts the hardware driver (github.com/angrycompany16/driver-go/elevio)
// to the vocabulary the rest of this module uses (order.ButtonType,
// liftfsm.Direction) instead of the driver's own enums. This is the only
// package that imports elevio directly, matching the spec's requirement
// that the physical driver socket is accessed only from the local Lift
// actor's surroundings.
package driverio

import (
	"github.com/angrycompany16/driver-go/elevio"

	"liftfleet/internal/liftfsm"
	"liftfleet/internal/order"
)

// Init connects to the driver socket (local TCP, per the spec's external
// interfaces) and configures the fleet-wide floor count.
func Init(addr string, numFloors int) {
	elevio.Init(addr, numFloors)
}

// ButtonPress mirrors elevio.ButtonEvent in this module's own vocabulary.
type ButtonPress struct {
	Floor int
	Type  order.ButtonType
}

func toOrderButton(b elevio.ButtonType) order.ButtonType {
	switch b {
	case elevio.BT_HallUp:
		return order.HallUp
	case elevio.BT_HallDown:
		return order.HallDown
	default:
		return order.Cab
	}
}

func toElevioButton(b order.ButtonType) elevio.ButtonType {
	switch b {
	case order.HallUp:
		return elevio.BT_HallUp
	case order.HallDown:
		return elevio.BT_HallDown
	default:
		return elevio.BT_Cab
	}
}

func toElevioDir(d liftfsm.Direction) elevio.MotorDirection {
	switch d {
	case liftfsm.Up:
		return elevio.MD_Up
	case liftfsm.Down:
		return elevio.MD_Down
	default:
		return elevio.MD_Stop
	}
}

// PollButtons relays driver button events onto out, translated into this
// module's ButtonPress type.
func PollButtons(out chan<- ButtonPress) {
	raw := make(chan elevio.ButtonEvent)
	go elevio.PollButtons(raw)
	for ev := range raw {
		out <- ButtonPress{Floor: ev.Floor, Type: toOrderButton(ev.Button)}
	}
}

// PollFloorSensor relays floor sensor events unchanged.
func PollFloorSensor(out chan<- int) {
	raw := make(chan int)
	go elevio.PollFloorSensor(raw)
	for f := range raw {
		out <- f
	}
}

// PollObstructionSwitch relays obstruction switch events unchanged.
func PollObstructionSwitch(out chan<- bool) {
	raw := make(chan bool)
	go elevio.PollObstructionSwitch(raw)
	for v := range raw {
		out <- v
	}
}

// SetButtonLamp sets a hall or cab call lamp.
func SetButtonLamp(bt order.ButtonType, floor int, on bool) {
	elevio.SetButtonLamp(toElevioButton(bt), floor, on)
}

// SetFloorIndicator sets the floor position lamp.
func SetFloorIndicator(floor int) {
	elevio.SetFloorIndicator(floor)
}

// Driver implements liftfsm.Driver against the real hardware socket.
type Driver struct{}

func (Driver) SetMotorDirection(dir liftfsm.Direction) {
	elevio.SetMotorDirection(toElevioDir(dir))
}

func (Driver) SetDoorOpenLamp(on bool) {
	elevio.SetDoorOpenLamp(on)
}
