package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockLevelApply(t *testing.T) {
	level := StockLevel{ProductID: 1, Quantity: 10}

	next, err := level.Apply(TransactionIn, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), next)

	next, err = level.Apply(TransactionOut, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), next)

	_, err = level.Apply(TransactionOut, 11)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(10), insufficient.Available)
	assert.Equal(t, int64(11), insufficient.Requested)

	_, err = level.Apply(TransactionType("MOVE"), 1)
	assert.Error(t, err)
}

func TestStockLevelApply_Overflow(t *testing.T) {
	level := StockLevel{ProductID: 1, Quantity: 1}

	next, err := level.Apply(TransactionIn, math.MaxInt64-1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), next)

	next, err = level.Apply(TransactionIn, math.MaxInt64)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "quantity", validationErr.Field)
	assert.Equal(t, int64(1), next)

	full := StockLevel{ProductID: 1, Quantity: math.MaxInt64}
	_, err = full.Apply(TransactionIn, 1)
	require.ErrorAs(t, err, &validationErr)
}

func TestReplayLedger(t *testing.T) {
	txs := []Transaction{
		{ID: 1, TransactionType: TransactionIn, Quantity: 10, PreviousQuantity: 0, NewQuantity: 10},
		{ID: 2, TransactionType: TransactionOut, Quantity: 3, PreviousQuantity: 10, NewQuantity: 7},
		{ID: 3, TransactionType: TransactionIn, Quantity: 20, PreviousQuantity: 7, NewQuantity: 27},
	}

	balance, err := ReplayLedger(txs)
	require.NoError(t, err)
	assert.Equal(t, int64(27), balance)

	balance, err = ReplayLedger(nil)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestReplayLedger_BrokenChain(t *testing.T) {
	txs := []Transaction{
		{ID: 1, TransactionType: TransactionIn, Quantity: 10, PreviousQuantity: 0, NewQuantity: 10},
		{ID: 2, TransactionType: TransactionOut, Quantity: 3, PreviousQuantity: 9, NewQuantity: 6},
	}

	balance, err := ReplayLedger(txs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction 2")
	assert.Equal(t, int64(10), balance)
}

func TestReplayLedger_WrongNewQuantity(t *testing.T) {
	txs := []Transaction{
		{ID: 1, TransactionType: TransactionIn, Quantity: 10, PreviousQuantity: 0, NewQuantity: 11},
	}

	_, err := ReplayLedger(txs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new_quantity 11")
}
