package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"launchpad/internal/business"
	"launchpad/internal/models"
	"launchpad/internal/store"
	"launchpad/pkg/config"
)

const (
	maxErrorCount = 3 // Maximum failed writes per purchase before the event is dropped to the log
)

type failureRecorder interface {
	RecordSettlementFailure(ctx context.Context, failure *models.SettlementFailure) error
}

// failureHandler writes settlement failure events into the reconciliation
// table. It tracks write errors per txid_in so one poison message cannot spin
// the queue forever.
type failureHandler struct {
	recorder failureRecorder

	mu          sync.Mutex
	errorCounts map[string]int
}

func newFailureHandler(recorder failureRecorder) *failureHandler {
	return &failureHandler{
		recorder:    recorder,
		errorCounts: make(map[string]int),
	}
}

func (h *failureHandler) Handle(ctx context.Context, msg []byte) error {
	var event business.SettlementFailureEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		log.WithError(err).WithField("body", string(msg)).Error("Failed to unmarshal settlement failure, dropping")
		return nil
	}
	if event.TxidIn == "" || event.LaunchID == "" {
		log.WithField("body", string(msg)).Error("Settlement failure is missing launch_id or txid_in, dropping")
		return nil
	}

	fields := log.Fields{
		"launch_id":  event.LaunchID,
		"user_id":    event.UserID,
		"amount":     event.Amount,
		"total_paid": event.TotalPaid,
		"txid_in":    event.TxidIn,
		"txid_out":   event.TxidOut,
	}

	err := h.recorder.RecordSettlementFailure(ctx, &models.SettlementFailure{
		LaunchID:   event.LaunchID,
		UserID:     event.UserID,
		Amount:     event.Amount,
		TotalPaid:  event.TotalPaid,
		TxidIn:     event.TxidIn,
		TxidOut:    event.TxidOut,
		Error:      event.Error,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		count := h.incrementErrorCount(event.TxidIn)
		if count >= maxErrorCount {
			log.WithFields(fields).WithError(err).Error("Error count exceeded threshold, settlement failure needs manual reconciliation")
			h.resetErrorCount(event.TxidIn)
			return nil
		}
		return fmt.Errorf("record settlement failure %s: %w", event.TxidIn, err)
	}

	h.resetErrorCount(event.TxidIn)
	log.WithFields(fields).Info("Settlement failure recorded")
	return nil
}

// incrementErrorCount increments the error count for a purchase
func (h *failureHandler) incrementErrorCount(txid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errorCounts[txid]++
	count := h.errorCounts[txid]
	log.Warnf("Error count for txid %s: %d/%d", txid, count, maxErrorCount)
	return count
}

// resetErrorCount forgets a purchase once it is resolved
func (h *failureHandler) resetErrorCount(txid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.errorCounts, txid)
}

func main() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	// Initialize database
	config.InitDB()

	// Initialize RabbitMQ
	config.InitRabbitMQ()
	defer config.RabbitMQ.Close()

	msgConsumer, err := config.NewConsumer(business.QueueSettlementFailures)
	if err != nil {
		log.Fatal("Failed to create consumer: ", err)
	}
	defer msgConsumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := newFailureHandler(store.New(config.DB))
	log.Info("Settlement reconciliation worker started, waiting for messages...")

	if err := msgConsumer.Consume(ctx, func(msg []byte) error {
		return handler.Handle(ctx, msg)
	}); err != nil {
		log.Fatal("Consumer stopped: ", err)
	}
	log.Info("Settlement reconciliation worker stopped")
}
