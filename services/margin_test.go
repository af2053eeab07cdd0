package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarginStore struct {
	mu        sync.Mutex
	global    *decimal.Decimal
	overrides map[string]decimal.Decimal
	failSave  bool
}

func (s *fakeMarginStore) LoadMargins(ctx context.Context) (*decimal.Decimal, map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global, s.overrides, nil
}

func (s *fakeMarginStore) SaveGlobalMargin(ctx context.Context, p decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.global = &p
	return nil
}

func (s *fakeMarginStore) SaveServiceMargin(ctx context.Context, key string, p *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	if s.overrides == nil {
		s.overrides = make(map[string]decimal.Decimal)
	}
	if p == nil {
		delete(s.overrides, key)
	} else {
		s.overrides[key] = *p
	}
	return nil
}

func TestMargins_GlobalAndOverride(t *testing.T) {
	ctx := context.Background()
	store := &fakeMarginStore{}
	m := NewMargins(decimal.NewFromInt(40), store)

	assert.Equal(t, "40", m.For("Instagram/Likes/x").String())

	require.NoError(t, m.SetGlobal(ctx, decimal.NewFromInt(25)))
	assert.Equal(t, "25", m.Global().String())
	assert.Equal(t, "25", store.global.String())

	ten := decimal.NewFromInt(10)
	require.NoError(t, m.SetService(ctx, "Instagram/Likes/x", &ten))
	assert.Equal(t, "10", m.For("Instagram/Likes/x").String())
	assert.Equal(t, "25", m.For("Instagram/Likes/y").String())
	assert.Len(t, m.Overrides(), 1)

	require.NoError(t, m.SetService(ctx, "Instagram/Likes/x", nil))
	assert.Equal(t, "25", m.For("Instagram/Likes/x").String())
	assert.Empty(t, store.overrides)
}

func TestMargins_Validation(t *testing.T) {
	m := NewMargins(decimal.NewFromInt(40), nil)
	for _, bad := range []string{"-1", "1000.01"} {
		err := m.SetGlobal(context.Background(), decimal.RequireFromString(bad))
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), bad)
	}
	assert.Equal(t, "40", m.Global().String())
}

func TestMargins_StoreFailureKeepsValue(t *testing.T) {
	m := NewMargins(decimal.NewFromInt(40), &fakeMarginStore{failSave: true})
	err := m.SetGlobal(context.Background(), decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Equal(t, "40", m.Global().String())
}

func TestMargins_Load(t *testing.T) {
	g := decimal.NewFromInt(55)
	store := &fakeMarginStore{global: &g, overrides: map[string]decimal.Decimal{"a": decimal.NewFromInt(5)}}
	m := NewMargins(decimal.NewFromInt(40), store)
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, "55", m.Global().String())
	assert.Equal(t, "5", m.For("a").String())
}

func TestMargins_ConcurrentReadWrite(t *testing.T) {
	m := NewMargins(decimal.NewFromInt(0), nil)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(v int64) {
			defer wg.Done()
			_ = m.SetGlobal(context.Background(), decimal.NewFromInt(v))
		}(int64(i))
		go func() {
			defer wg.Done()
			got := m.For("k")
			assert.True(t, got.GreaterThanOrEqual(decimal.Zero) && got.LessThanOrEqual(decimal.NewFromInt(50)))
		}()
	}
	wg.Wait()

	require.NoError(t, m.SetGlobal(context.Background(), decimal.NewFromInt(77)))
	assert.Equal(t, "77", m.For("k").String(), "write visible to next read")
}
