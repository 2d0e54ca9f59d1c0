package orderserver

import (
	"liftfleet/internal/liftfsm"
	"liftfleet/internal/order"
)

// travelTime is the simulated seconds to move between adjacent floors,
// mirroring the reference project's request_assigner.go TRAVEL_TIME
// constant.
const travelTime = 2

// doorOpenTime is the simulated cost of one door-hold cycle.
const doorOpenTime = 3

// simState is a scratch copy of enough lift state to run a
// direction/service simulation (chooseDirection / shouldStop /
// clearAtFloor), without touching the real Lift actor, which itself serves
// one order at a time and does not run this logic. Grounded on the reference project's
// request_assigner.go:timeToIdle, generalized from "rank a slice of
// elevators" to "cost one candidate order against one lift snapshot".
type simState struct {
	floor     int
	dir       liftfsm.Direction
	state     liftfsm.State
	requests  [order.NumFloors][3]bool
}

func (s simState) requestsAbove() bool {
	for f := s.floor + 1; f < order.NumFloors; f++ {
		for b := 0; b < 3; b++ {
			if s.requests[f][b] {
				return true
			}
		}
	}
	return false
}

func (s simState) requestsBelow() bool {
	for f := 0; f < s.floor; f++ {
		for b := 0; b < 3; b++ {
			if s.requests[f][b] {
				return true
			}
		}
	}
	return false
}

func (s simState) requestsHere() bool {
	for b := 0; b < 3; b++ {
		if s.requests[s.floor][b] {
			return true
		}
	}
	return false
}

func (s *simState) clearAtFloor() {
	for b := 0; b < 3; b++ {
		s.requests[s.floor][b] = false
	}
}

func (s simState) chooseDirection() liftfsm.Direction {
	switch s.dir {
	case liftfsm.Up:
		if s.requestsAbove() {
			return liftfsm.Up
		} else if s.requestsHere() {
			return liftfsm.Stop
		} else if s.requestsBelow() {
			return liftfsm.Down
		}
		return liftfsm.Stop
	case liftfsm.Down:
		if s.requestsBelow() {
			return liftfsm.Down
		} else if s.requestsHere() {
			return liftfsm.Stop
		} else if s.requestsAbove() {
			return liftfsm.Up
		}
		return liftfsm.Stop
	default: // Stop
		if s.requestsHere() {
			return liftfsm.Stop
		} else if s.requestsAbove() {
			return liftfsm.Up
		} else if s.requestsBelow() {
			return liftfsm.Down
		}
		return liftfsm.Stop
	}
}

func (s simState) shouldStop() bool {
	switch s.dir {
	case liftfsm.Down:
		return s.requests[s.floor][int(order.HallDown)] || s.requests[s.floor][int(order.Cab)] || !s.requestsBelow()
	case liftfsm.Up:
		return s.requests[s.floor][int(order.HallUp)] || s.requests[s.floor][int(order.Cab)] || !s.requestsAbove()
	default:
		return true
	}
}

// timeToServe returns the simulated number of seconds for a lift in the
// given snapshot, with candidate additionally queued, to serve every queued
// request including candidate and come to rest (time to idle). It is deterministic given (floor, dir, state, requests): equal
// snapshots on different peers yield equal costs (symmetry), and it is
// monotone in distance because every floor crossed adds exactly
// travelTime.
func timeToServe(floor int, dir liftfsm.Direction, state liftfsm.State, pending []queueKey, candidate order.Order) int {
	s := simState{floor: floor, dir: dir}
	for _, k := range pending {
		s.requests[k.Floor][int(k.Button)] = true
	}
	s.requests[candidate.Floor][int(candidate.ButtonType)] = true

	duration := 0
	switch state {
	case liftfsm.StateIdle:
		if s.chooseDirection() == liftfsm.Stop {
			return duration
		}
	case liftfsm.StateMoving:
		duration += travelTime / 2
		s.floor += int(s.dir)
	case liftfsm.StateDoorOpen:
		duration -= doorOpenTime / 2
	}

	for i := 0; i < 4*order.NumFloors; i++ { // bounded: can't loop forever
		if s.floor < 0 {
			s.floor = 0
		}
		if s.floor >= order.NumFloors {
			s.floor = order.NumFloors - 1
		}
		if s.shouldStop() {
			s.clearAtFloor()
			duration += doorOpenTime
			s.dir = s.chooseDirection()
			if s.dir == liftfsm.Stop {
				return duration
			}
		}
		s.floor += int(s.dir)
		duration += travelTime
	}
	return duration
}
