package gateway

import (
	"sync"

	"github.com/tathienbao/tradegate/internal/types"
)

// Cache holds the latest account, position, order and tick state of one
// session. It is written by the event engine goroutine (and by the
// synchronous query path when it merges a pull) and read by callers.
// Every getter returns copies.
type Cache struct {
	accountMu sync.RWMutex
	account   *types.Account

	positionsMu sync.RWMutex
	positions   []types.Position

	ordersMu   sync.RWMutex
	orders     []types.Order
	orderIndex map[string]int

	ticksMu sync.RWMutex
	ticks   map[string]types.Tick
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		orderIndex: make(map[string]int),
		ticks:      make(map[string]types.Tick),
	}
}

// Apply applies one event according to its type and reports whether the
// cache changed. Log events never change the cache.
func (c *Cache) Apply(ev Event) bool {
	switch ev.Type {
	case EventAccount:
		if ev.Account == nil {
			return false
		}
		c.SetAccount(*ev.Account)
	case EventPosition:
		if ev.Position == nil {
			return false
		}
		c.UpsertPosition(*ev.Position)
	case EventOrder:
		if ev.Order == nil {
			return false
		}
		c.UpsertOrder(*ev.Order)
	case EventTick:
		if ev.Tick == nil {
			return false
		}
		c.SetTick(*ev.Tick)
	default:
		return false
	}
	return true
}

// SetAccount replaces the account snapshot.
func (c *Cache) SetAccount(a types.Account) {
	c.accountMu.Lock()
	defer c.accountMu.Unlock()
	c.account = &a
}

// Account returns the current account snapshot.
func (c *Cache) Account() (*types.Account, bool) {
	c.accountMu.RLock()
	defer c.accountMu.RUnlock()

	if c.account == nil {
		return nil, false
	}
	a := *c.account
	return &a, true
}

// UpsertPosition replaces the record with the same (symbol, direction) key,
// or appends a new one.
func (c *Cache) UpsertPosition(p types.Position) {
	if p.Volume < 0 {
		p.Volume = 0
	}

	c.positionsMu.Lock()
	defer c.positionsMu.Unlock()
	c.upsertPositionLocked(p)
}

// MergePositions upserts every position of a synchronous pull.
func (c *Cache) MergePositions(positions []types.Position) {
	c.positionsMu.Lock()
	defer c.positionsMu.Unlock()

	for _, p := range positions {
		if p.Volume < 0 {
			p.Volume = 0
		}
		c.upsertPositionLocked(p)
	}
}

func (c *Cache) upsertPositionLocked(p types.Position) {
	for i := range c.positions {
		if c.positions[i].Key() == p.Key() {
			c.positions[i] = p
			return
		}
	}
	c.positions = append(c.positions, p)
}

// Positions returns the live positions, excluding records with zero volume.
func (c *Cache) Positions() []types.Position {
	c.positionsMu.RLock()
	defer c.positionsMu.RUnlock()

	result := make([]types.Position, 0, len(c.positions))
	for _, p := range c.positions {
		if p.Volume > 0 {
			result = append(result, p)
		}
	}
	return result
}

// AllPositions returns every cached record, including zero-volume ones.
func (c *Cache) AllPositions() []types.Position {
	c.positionsMu.RLock()
	defer c.positionsMu.RUnlock()

	result := make([]types.Position, len(c.positions))
	copy(result, c.positions)
	return result
}

// Position returns the cached record for a key, regardless of volume.
func (c *Cache) Position(key types.PositionKey) (*types.Position, bool) {
	c.positionsMu.RLock()
	defer c.positionsMu.RUnlock()

	for _, p := range c.positions {
		if p.Key() == key {
			return &p, true
		}
	}
	return nil, false
}

// UpsertOrder replaces the record with the same order id, or appends a new one.
// The creation time of an existing record is kept.
func (c *Cache) UpsertOrder(o types.Order) {
	c.ordersMu.Lock()
	defer c.ordersMu.Unlock()

	if i, ok := c.orderIndex[o.OrderID]; ok {
		if o.CreatedAt.IsZero() {
			o.CreatedAt = c.orders[i].CreatedAt
		}
		c.orders[i] = o
		return
	}

	c.orderIndex[o.OrderID] = len(c.orders)
	c.orders = append(c.orders, o)
}

// AddOrder inserts o only if its id is unknown and reports whether it did.
// A submission record must never overwrite a status that already arrived.
func (c *Cache) AddOrder(o types.Order) bool {
	c.ordersMu.Lock()
	defer c.ordersMu.Unlock()

	if _, ok := c.orderIndex[o.OrderID]; ok {
		return false
	}
	c.orderIndex[o.OrderID] = len(c.orders)
	c.orders = append(c.orders, o)
	return true
}

// Order returns the cached order with the given id.
func (c *Cache) Order(orderID string) (*types.Order, bool) {
	c.ordersMu.RLock()
	defer c.ordersMu.RUnlock()

	i, ok := c.orderIndex[orderID]
	if !ok {
		return nil, false
	}
	o := c.orders[i]
	return &o, true
}

// Orders returns the full order history in arrival order.
func (c *Cache) Orders() []types.Order {
	c.ordersMu.RLock()
	defer c.ordersMu.RUnlock()

	result := make([]types.Order, len(c.orders))
	copy(result, c.orders)
	return result
}

// SetTick replaces the tick for its symbol.
func (c *Cache) SetTick(t types.Tick) {
	c.ticksMu.Lock()
	defer c.ticksMu.Unlock()
	c.ticks[t.Symbol] = t
}

// Tick returns the latest tick for a symbol.
func (c *Cache) Tick(symbol string) (*types.Tick, bool) {
	c.ticksMu.RLock()
	defer c.ticksMu.RUnlock()

	t, ok := c.ticks[symbol]
	if !ok {
		return nil, false
	}
	return &t, true
}

// Reset discards all cached state.
func (c *Cache) Reset() {
	c.accountMu.Lock()
	c.account = nil
	c.accountMu.Unlock()

	c.positionsMu.Lock()
	c.positions = nil
	c.positionsMu.Unlock()

	c.ordersMu.Lock()
	c.orders = nil
	c.orderIndex = make(map[string]int)
	c.ordersMu.Unlock()

	c.ticksMu.Lock()
	c.ticks = make(map[string]types.Tick)
	c.ticksMu.Unlock()
}
