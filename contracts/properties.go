package contracts

import (
	"sync"
)

// PropertyBag holds values shared between interceptors of one exchange
type PropertyBag struct {
	values map[string]interface{}
	mu     sync.RWMutex
}

// NewPropertyBag creates an empty property bag
func NewPropertyBag() *PropertyBag {
	return &PropertyBag{
		values: make(map[string]interface{}),
	}
}

// Set stores a value
func (b *PropertyBag) Set(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
}

// Get retrieves a value
func (b *PropertyBag) Get(key string) (interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, exists := b.values[key]
	return value, exists
}

// GetString retrieves a string value
func (b *PropertyBag) GetString(key string) (string, bool) {
	value, exists := b.Get(key)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// GetInt retrieves an int value
func (b *PropertyBag) GetInt(key string) (int, bool) {
	value, exists := b.Get(key)
	if !exists {
		return 0, false
	}
	i, ok := value.(int)
	return i, ok
}

// Delete removes a value
func (b *PropertyBag) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
}

// Len returns the number of stored values
func (b *PropertyBag) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

// Copy creates a copy of the bag
func (b *PropertyBag) Copy() *PropertyBag {
	b.mu.RLock()
	defer b.mu.RUnlock()

	nb := NewPropertyBag()
	for k, v := range b.values {
		nb.values[k] = v
	}
	return nb
}
