package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/business"
	"launchpad/internal/models"
)

type fakeRecorder struct {
	err      error
	recorded []models.SettlementFailure
	calls    int
}

func (r *fakeRecorder) RecordSettlementFailure(ctx context.Context, failure *models.SettlementFailure) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.recorded = append(r.recorded, *failure)
	return nil
}

func failureEvent(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(business.SettlementFailureEvent{
		LaunchID:   "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		UserID:     "buyer",
		Amount:     100,
		TotalPaid:  10_000,
		TxidIn:     "in-sig",
		TxidOut:    "out-sig",
		Error:      "connection reset",
		OccurredAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return body
}

func TestFailureHandlerRecords(t *testing.T) {
	rec := &fakeRecorder{}
	h := newFailureHandler(rec)

	require.NoError(t, h.Handle(context.Background(), failureEvent(t)))
	require.Len(t, rec.recorded, 1)

	got := rec.recorded[0]
	assert.Equal(t, "in-sig", got.TxidIn)
	assert.Equal(t, "out-sig", got.TxidOut)
	assert.Equal(t, uint64(100), got.Amount)
	assert.Equal(t, uint64(10_000), got.TotalPaid)
	assert.Equal(t, "connection reset", got.Error)
	assert.Nil(t, got.ResolvedAt)
}

func TestFailureHandlerDropsMalformed(t *testing.T) {
	rec := &fakeRecorder{}
	h := newFailureHandler(rec)

	assert.NoError(t, h.Handle(context.Background(), []byte("{not json")))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"launch_id":"x"}`)))
	assert.Zero(t, rec.calls)
}

func TestFailureHandlerRetriesThenGivesUp(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	h := newFailureHandler(rec)
	body := failureEvent(t)

	for i := 1; i < maxErrorCount; i++ {
		assert.Error(t, h.Handle(context.Background(), body), "attempt %d should requeue", i)
	}
	assert.NoError(t, h.Handle(context.Background(), body))
	assert.Equal(t, maxErrorCount, rec.calls)
	assert.Empty(t, h.errorCounts)

	rec.err = nil
	require.NoError(t, h.Handle(context.Background(), body))
	assert.Len(t, rec.recorded, 1)
}
