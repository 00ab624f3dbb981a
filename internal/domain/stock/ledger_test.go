package stock

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-cart/internal/domain/product"
)

type mockStore struct {
	qty     map[int64]int
	locked  []int64
	sets    int
	setErr  error
	readErr error
}

func (m *mockStore) Quantity(_ context.Context, id int64) (int, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	q, ok := m.qty[id]
	if !ok {
		return 0, product.ErrNotFound
	}
	return q, nil
}

func (m *mockStore) LockQuantity(ctx context.Context, id int64) (int, error) {
	m.locked = append(m.locked, id)
	return m.Quantity(ctx, id)
}

func (m *mockStore) SetQuantity(_ context.Context, id int64, qty int) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	m.qty[id] = qty
	return nil
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name           string
		current, delta int
		want           int
	}{
		{name: "decrement within stock", current: 5, delta: -2, want: 3},
		{name: "decrement to exactly zero", current: 5, delta: -5, want: 0},
		{name: "decrement past zero saturates", current: 5, delta: -999, want: 0},
		{name: "increment", current: 0, delta: 7, want: 7},
		{name: "zero delta", current: 4, delta: 0, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clamp(tt.current, tt.delta))
		})
	}
}

func TestLedger_Available(t *testing.T) {
	l := NewLedger(&mockStore{qty: map[int64]int{42: 5}})

	got, err := l.Available(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	_, err = l.Available(context.Background(), 7)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestLedger_Adjust(t *testing.T) {
	store := &mockStore{qty: map[int64]int{42: 5}}
	l := NewLedger(store)

	got, err := l.Adjust(context.Background(), 42, -2)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, store.qty[42])
	assert.Equal(t, []int64{42}, store.locked)

	got, err = l.Adjust(context.Background(), 42, -10)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.Equal(t, 0, store.qty[42])
}

func TestLedger_Adjust_NoWriteWhenUnchanged(t *testing.T) {
	store := &mockStore{qty: map[int64]int{1: 0}}
	l := NewLedger(store)

	got, err := l.Adjust(context.Background(), 1, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.Zero(t, store.sets)
}

func TestLedger_Adjust_NeverNegative(t *testing.T) {
	store := &mockStore{qty: map[int64]int{1: 10}}
	l := NewLedger(store)

	for _, delta := range []int{-3, 4, -20, 1, -1, -1, 6, -100} {
		got, err := l.Adjust(context.Background(), 1, delta)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, 0)
		require.GreaterOrEqual(t, store.qty[1], 0)
	}
}

func TestLedger_Adjust_SetError(t *testing.T) {
	l := NewLedger(&mockStore{qty: map[int64]int{1: 10}, setErr: errors.New("db down")})

	_, err := l.Adjust(context.Background(), 1, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set stock of product 1")
}
