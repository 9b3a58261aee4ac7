package gateway

import (
	"time"

	"github.com/tathienbao/tradegate/internal/types"
)

// EventType tags the payload carried by an Event.
type EventType string

const (
	EventLog      EventType = "log"
	EventAccount  EventType = "account"
	EventPosition EventType = "position"
	EventOrder    EventType = "order"
	EventTick     EventType = "tick"
)

// Event is one asynchronous notification from a venue. Exactly one payload
// field matching Type is set.
type Event struct {
	Type     EventType
	Time     time.Time
	Log      string
	Account  *types.Account
	Position *types.Position
	Order    *types.Order
	Tick     *types.Tick
}

// LogEvent builds a log event.
func LogEvent(msg string) Event {
	return Event{Type: EventLog, Time: time.Now(), Log: msg}
}

// AccountEvent builds an account event.
func AccountEvent(a types.Account) Event {
	return Event{Type: EventAccount, Time: time.Now(), Account: &a}
}

// PositionEvent builds a position event.
func PositionEvent(p types.Position) Event {
	return Event{Type: EventPosition, Time: time.Now(), Position: &p}
}

// OrderEvent builds an order event.
func OrderEvent(o types.Order) Event {
	return Event{Type: EventOrder, Time: time.Now(), Order: &o}
}

// TickEvent builds a tick event.
func TickEvent(t types.Tick) Event {
	return Event{Type: EventTick, Time: time.Now(), Tick: &t}
}

// Handler consumes events on the engine goroutine.
type Handler func(Event)
