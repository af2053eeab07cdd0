package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MaxMarginPercent bounds admin input.
var MaxMarginPercent = decimal.NewFromInt(1000)

// MarginStore persists margins so they survive restarts.
type MarginStore interface {
	LoadMargins(ctx context.Context) (global *decimal.Decimal, overrides map[string]decimal.Decimal, err error)
	SaveGlobalMargin(ctx context.Context, percent decimal.Decimal) error
	SaveServiceMargin(ctx context.Context, serviceKey string, percent *decimal.Decimal) error
}

// Margins is the process-wide profit margin cell with optional per-service
// overrides. Reads always see the latest completed write.
type Margins struct {
	mu        sync.RWMutex
	global    decimal.Decimal
	overrides map[string]decimal.Decimal
	store     MarginStore
}

// NewMargins returns a cell holding def. store may be nil.
func NewMargins(def decimal.Decimal, store MarginStore) *Margins {
	return &Margins{
		global:    def,
		overrides: make(map[string]decimal.Decimal),
		store:     store,
	}
}

// Load replaces the in-memory values with what the store holds.
func (m *Margins) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	global, overrides, err := m.store.LoadMargins(ctx)
	if err != nil {
		return fmt.Errorf("load margins: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if global != nil {
		m.global = *global
	}
	for k, v := range overrides {
		m.overrides[k] = v
	}
	return nil
}

func (m *Margins) Global() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global
}

// For returns the margin that applies to the service with the given key.
func (m *Margins) For(serviceKey string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.overrides[serviceKey]; ok {
		return v
	}
	return m.global
}

func (m *Margins) Overrides() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.overrides))
	for k, v := range m.overrides {
		out[k] = v
	}
	return out
}

// SetGlobal persists first, then publishes the new value.
func (m *Margins) SetGlobal(ctx context.Context, percent decimal.Decimal) error {
	if err := validateMargin(percent); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		if err := m.store.SaveGlobalMargin(ctx, percent); err != nil {
			return fmt.Errorf("save margin: %w", err)
		}
	}
	m.global = percent
	return nil
}

// SetService sets an override for one service; nil clears it.
func (m *Margins) SetService(ctx context.Context, serviceKey string, percent *decimal.Decimal) error {
	if percent != nil {
		if err := validateMargin(*percent); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		if err := m.store.SaveServiceMargin(ctx, serviceKey, percent); err != nil {
			return fmt.Errorf("save service margin: %w", err)
		}
	}
	if percent == nil {
		delete(m.overrides, serviceKey)
	} else {
		m.overrides[serviceKey] = *percent
	}
	return nil
}

func validateMargin(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(MaxMarginPercent) {
		return &ValidationError{
			Field:   "margin",
			Message: fmt.Sprintf("Margin must be between 0 and %s percent.", MaxMarginPercent),
		}
	}
	return nil
}
