/*
scheduler.go - Scheduled reconciliation sweep

PURPOSE:
  Runs the overdue sweep on a cron schedule so contributions past their
  grace deadline and loans past their due date are flagged without an
  operator calling /api/admin/reconcile.

DESIGN:
  - robfig/cron drives the schedule; the sweep itself is Handler.Reconcile,
    the same code path as the manual endpoint
  - The sweep is idempotent, so an overlapping or repeated run is harmless
  - Failures are logged and retried on the next tick

CONFIGURATION:
  Spec is a standard 5-field cron expression. The default "0 2 * * *"
  runs daily at 02:00.

USAGE:
  sched := api.NewReconcileScheduler(handler, "0 2 * * *", log)
  sched.Start()
  defer sched.Stop()

SEE ALSO:
  - handlers.go: TriggerReconcile (manual sweep)
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultReconcileSpec runs the sweep daily at 02:00.
const DefaultReconcileSpec = "0 2 * * *"

// ReconcileScheduler runs the overdue sweep on a cron schedule.
type ReconcileScheduler struct {
	Handler *Handler
	Spec    string
	Log     *logrus.Logger

	cron *cron.Cron
}

// NewReconcileScheduler creates a scheduler; an empty spec uses the
// default.
func NewReconcileScheduler(h *Handler, spec string, log *logrus.Logger) *ReconcileScheduler {
	if spec == "" {
		spec = DefaultReconcileSpec
	}
	if log == nil {
		log = h.Log
	}
	return &ReconcileScheduler{Handler: h, Spec: spec, Log: log}
}

// Start registers the cron entry and begins running. Returns an error for
// an invalid cron spec.
func (s *ReconcileScheduler) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.Spec, s.runOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.Log.WithField("spec", s.Spec).Info("reconciliation scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *ReconcileScheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.Log.Info("reconciliation scheduler stopped")
}

// RunNow triggers an immediate sweep (for admin and tests).
func (s *ReconcileScheduler) RunNow() {
	s.runOnce()
}

func (s *ReconcileScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.Handler.Reconcile(ctx, nil, s.Handler.Now())
	if err != nil {
		s.Log.WithError(err).Error("scheduled reconciliation failed")
		return
	}
	s.Log.WithFields(logrus.Fields{
		"groups":        result.GroupsChecked,
		"contributions": result.ContributionsMarked,
		"loans":         result.LoansMarkedOverdue,
	}).Info("scheduled reconciliation completed")
}
