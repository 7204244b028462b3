package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	dispatcher *OutboxDispatcher
	reconciler *ReconcilerService
	payoutSvc  *PayoutService
}

// NewCronService creates a new CronService
func NewCronService(dispatcher *OutboxDispatcher, reconciler *ReconcilerService, payoutSvc *PayoutService) *CronService {
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:       c,
		dispatcher: dispatcher,
		reconciler: reconciler,
		payoutSvc:  payoutSvc,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	log.Println("Starting cron service...")

	// Job 1: Submit queued payouts every minute
	// Cron format: second minute hour day month weekday
	_, err := s.cron.AddFunc("0 * * * * *", s.submitPayoutsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule payout submitter job: %w", err)
	}
	log.Println("✓ Scheduled: Submit queued payouts (Every minute)")

	// Job 2: Reconcile stuck payments and payouts every 15 minutes
	_, err = s.cron.AddFunc("0 */15 * * * *", s.reconcileJob)
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	log.Println("✓ Scheduled: Reconcile gateway state (Every 15 minutes)")

	// Job 3: Sweep published outbox events daily at 3 AM
	_, err = s.cron.AddFunc("0 0 3 * * *", s.sweepOutboxJob)
	if err != nil {
		return fmt.Errorf("failed to schedule outbox sweep job: %w", err)
	}
	log.Println("✓ Scheduled: Sweep published outbox events (Daily at 3:00 AM)")

	s.cron.Start()
	log.Println("✓ Cron service started successfully")

	return nil
}

// Stop stops all cron jobs
func (s *CronService) Stop() {
	log.Println("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("✓ Cron service stopped")
}

func (s *CronService) submitPayoutsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	submitted, err := s.payoutSvc.SubmitPending(ctx, 50)
	if err != nil {
		log.Printf("[CRON ERROR] Failed to submit payouts: %v\n", err)
		return
	}
	if submitted > 0 {
		log.Printf("[CRON] ✓ Submitted %d payouts\n", submitted)
	}
}

func (s *CronService) reconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	startTime := time.Now()

	invoices, err := s.reconciler.ReconcileInvoices(ctx, 30*time.Minute, 100)
	if err != nil {
		log.Printf("[CRON ERROR] Failed to reconcile invoices: %v\n", err)
	}
	payouts, err := s.reconciler.ReconcilePayouts(ctx, 30*time.Minute, 100)
	if err != nil {
		log.Printf("[CRON ERROR] Failed to reconcile payouts: %v\n", err)
	}

	log.Printf("[CRON] ✓ Reconciled %d invoices and %d payouts in %v\n", invoices, payouts, time.Since(startTime))
}

func (s *CronService) sweepOutboxJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	deleted, err := s.dispatcher.Sweep(ctx)
	if err != nil {
		log.Printf("[CRON ERROR] Failed to sweep outbox: %v\n", err)
		return
	}
	log.Printf("[CRON] ✓ Swept %d published outbox events\n", deleted)
}

// RunReconcileNow runs the reconciliation job immediately (for testing)
func (s *CronService) RunReconcileNow() error {
	log.Println("[MANUAL] Running reconciliation now...")
	s.reconcileJob()
	return nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
