package app

import (
	"fmt"

	"github.com/dkeye/VideoSync/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	CloseConnection
)

// Policy decides what happens to a peer whose delivery failed. The failure
// is always counted and logged; it never reaches the originator.
type Policy interface {
	OnDeliveryFailure(f domain.DeliveryFailure) BackpressureAction
}

// CountPolicy leaves the connection alone; the next heartbeat timeout reaps it.
type CountPolicy struct{}

func (CountPolicy) OnDeliveryFailure(domain.DeliveryFailure) BackpressureAction { return NoAction }

// DropPolicy closes the failing connection so the peer reconnects.
type DropPolicy struct{}

func (DropPolicy) OnDeliveryFailure(domain.DeliveryFailure) BackpressureAction {
	return CloseConnection
}

func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "count":
		return CountPolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown delivery policy %q", name)
}
