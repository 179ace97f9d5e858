// Package service runs the background claim monitor: it sweeps active
// policies on a schedule, expires elapsed coverage, and raises an alert the
// first time a policy's trigger condition is observed.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lendsure/internal/alerting"
	"lendsure/internal/claims"
	"lendsure/internal/config"
	"lendsure/internal/core"
	"lendsure/internal/scheduler"
	"lendsure/internal/storage"
)

// Service orchestrates sweeping, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	core       *core.Core
	alertStore storage.ClaimAlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the claim monitor.
func New(cfg *config.Config, sched *scheduler.Scheduler, c *core.Core, backend storage.Backend, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := backend.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		core:       c,
		alertStore: backend,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Monitor.AdvisoryLockKey,
	}
}

// Run begins the sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Sweep)
}

// Sweep executes one monitor pass. The advisory lock keeps concurrent
// replicas from double-alerting.
func (s *Service) Sweep(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeSweep(ctx, at)
}

func (s *Service) executeSweep(ctx context.Context, at time.Time) error {
	expired, err := s.core.ExpireStaleAppraisals(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to expire stale appraisals")
	} else if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("expired stale appraisal requests")
	}

	policies, err := s.core.ActivePolicies(ctx)
	if err != nil {
		return fmt.Errorf("list active policies: %w", err)
	}

	for _, policy := range policies {
		if done, err := s.core.ExpirePolicy(ctx, policy.ID); err != nil {
			s.logger.Error().Err(err).Uint64("policy", policy.ID).Msg("failed to expire policy")
			continue
		} else if done {
			continue
		}

		state, point := s.core.EvaluatePolicy(ctx, policy.ID)
		if state != claims.StateTriggered {
			continue
		}
		s.handleTrigger(ctx, policy, point)
	}

	s.logger.Info().Time("at", at).Int("policies", len(policies)).Msg("sweep complete")
	return nil
}

// handleTrigger records the trigger and notifies once. The alert store
// deduplicates per policy, so repeated sweeps over a still-triggered policy
// stay quiet after the first alert.
func (s *Service) handleTrigger(ctx context.Context, policy storage.Policy, point storage.OracleDataPoint) {
	inserted, err := s.alertStore.InsertClaimAlert(ctx, storage.ClaimAlert{
		PolicyID:  policy.ID,
		PerilType: policy.PerilType,
		Location:  policy.Location,
		Magnitude: point.Magnitude,
		Timestamp: point.Timestamp,
	})
	if err != nil {
		s.logger.Error().Err(err).Uint64("policy", policy.ID).Msg("failed to persist claim alert")
		return
	}
	if !inserted {
		return
	}

	s.logger.Info().Uint64("policy", policy.ID).
		Str("magnitude", point.Magnitude.String()).
		Msg("claim condition triggered")

	if !s.alertsOn || s.notifier == nil {
		return
	}
	note := alerting.Notification{
		PolicyID:       policy.ID,
		Insured:        policy.Insured.Hex(),
		PerilType:      policy.PerilType,
		Location:       policy.Location,
		Magnitude:      point.Magnitude,
		Threshold:      policy.TriggerThreshold,
		CoverageAmount: policy.CoverageAmount,
		ObservedAt:     time.Unix(point.Timestamp, 0).UTC(),
		Channels:       s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Uint64("policy", policy.ID).Msg("failed to dispatch claim alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
