package outbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Payload is one variant of the event payload union. EventType returns the
// dotted type name the variant is registered under.
type Payload interface {
	EventType() string
}

// Catalog maps event type names to payload constructors so stored envelopes
// decode back into their typed variant.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]func() Payload
}

func NewCatalog() *Catalog {
	return &Catalog{factories: map[string]func() Payload{}}
}

// Register adds a variant. factory must return a fresh pointer on every call.
func (c *Catalog) Register(factory func() Payload) error {
	name := factory().EventType()
	if err := ValidateTypeName(name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("%w: %q registered twice", ErrInvalidEventType, name)
	}
	c.factories[name] = factory
	return nil
}

func (c *Catalog) MustRegister(factories ...func() Payload) {
	for _, f := range factories {
		if err := c.Register(f); err != nil {
			panic(err)
		}
	}
}

func (c *Catalog) Decode(name string, raw json.RawMessage) (Payload, error) {
	c.mu.RLock()
	factory, ok := c.factories[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	p := factory()
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
	}
	return p, nil
}

// Types lists registered names in lexical order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
