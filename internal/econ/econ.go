// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package econ implements the survival-economics model: burn and earn
// rates over uptime, runway, survival tier, the spawn-affordability gate,
// and the voluntary-sleep heuristic. Everything here is a pure function
// of counters the caller reads from the store; the package does no I/O.
package econ

import (
	"math"
	"time"

	emberr "github.com/emberhq/ember/pkg/errors"
)

// UnlimitedRunwayHours is the sentinel runway used when the burn rate is
// zero or negative. It compares as strictly larger than any sane tier
// threshold (a century of hours).
const UnlimitedRunwayHours float64 = 876_000

// uptimeEpsilon floors uptime so rate divisions never divide by zero.
const uptimeEpsilon = 1e-6

// hoursPerMonth is the flat month length used by the spawn gate.
const hoursPerMonth = 720

// childCostFactor is a child's estimated monthly cost relative to our own.
const childCostFactor = 0.8

// Voluntary-sleep heuristic bounds (ShouldSleep).
const (
	sleepEarnBurnRatio = 0.5
	sleepRunwayHours   = 24
)

// Tier is the discrete compute-intensity level derived from runway.
// Higher values are safer.
type Tier int

const (
	TierDead Tier = iota
	TierCritical
	TierLowCompute
	TierNormal
)

// String returns the persisted wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierLowCompute:
		return "low_compute"
	case TierCritical:
		return "critical"
	default:
		return "dead"
	}
}

// Thresholds are the runway lower bounds (hours) for each non-dead tier.
// A runway at exactly a bound resolves to the safer tier.
type Thresholds struct {
	NormalHours     float64
	LowComputeHours float64
	CriticalHours   float64
}

// DefaultThresholds returns the standard tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NormalHours:     72,
		LowComputeHours: 24,
		CriticalHours:   4,
	}
}

// Validate checks that the thresholds are positive and strictly ordered.
func (th Thresholds) Validate() error {
	if th.CriticalHours <= 0 {
		return emberr.Errorf(emberr.CodeEconThresholdsInvalid, "critical threshold must be positive, got %v", th.CriticalHours)
	}
	if th.LowComputeHours <= th.CriticalHours {
		return emberr.Errorf(emberr.CodeEconThresholdsInvalid, "low_compute threshold (%v) must exceed critical (%v)", th.LowComputeHours, th.CriticalHours)
	}
	if th.NormalHours <= th.LowComputeHours {
		return emberr.Errorf(emberr.CodeEconThresholdsInvalid, "normal threshold (%v) must exceed low_compute (%v)", th.NormalHours, th.LowComputeHours)
	}
	return nil
}

// TierFor maps a runway to its survival tier. Ties resolve upward:
// a runway exactly at a bound yields the safer tier.
func TierFor(runwayHours float64, th Thresholds) Tier {
	switch {
	case runwayHours >= th.NormalHours:
		return TierNormal
	case runwayHours >= th.LowComputeHours:
		return TierLowCompute
	case runwayHours >= th.CriticalHours:
		return TierCritical
	default:
		return TierDead
	}
}

// Inputs are the persisted counters a snapshot is computed from.
// Monetary values are integer cents.
type Inputs struct {
	BudgetCents  int64
	SpentCents   int64
	EarnedCents  int64
	TributeCents int64
	Uptime       time.Duration
	TotalTurns   int
	Now          time.Time
}

// Snapshot is the derived economic state at a point in time.
type Snapshot struct {
	Timestamp         time.Time
	BudgetCents       int64
	SpentCents        int64
	EarnedCents       int64
	BalanceCents      int64
	BurnPerHour       float64 // cents/hr
	EarnPerHour       float64 // cents/hr
	EarnBurnRatio     float64
	RunwayHours       float64
	CostPerTurnCents  float64
	TotalTurns        int
	UptimeHours       float64
	ChildTributeCents int64
}

// Compute derives a Snapshot from raw counters. Balance is floored at
// zero before any runway math.
func Compute(in Inputs) Snapshot {
	uptimeHours := in.Uptime.Hours()
	if uptimeHours < uptimeEpsilon {
		uptimeHours = uptimeEpsilon
	}

	balance := in.BudgetCents - in.SpentCents + in.EarnedCents
	if balance < 0 {
		balance = 0
	}

	burn := float64(in.SpentCents) / uptimeHours
	earn := float64(in.EarnedCents) / uptimeHours

	ratio := 0.0
	if burn > 0 {
		ratio = earn / burn
	}

	runway := UnlimitedRunwayHours
	if burn > 0 {
		runway = float64(balance) / burn
	}

	costPerTurn := 0.0
	if in.TotalTurns > 0 {
		costPerTurn = float64(in.SpentCents) / float64(in.TotalTurns)
	}

	return Snapshot{
		Timestamp:         in.Now,
		BudgetCents:       in.BudgetCents,
		SpentCents:        in.SpentCents,
		EarnedCents:       in.EarnedCents,
		BalanceCents:      balance,
		BurnPerHour:       burn,
		EarnPerHour:       earn,
		EarnBurnRatio:     ratio,
		RunwayHours:       runway,
		CostPerTurnCents:  costPerTurn,
		TotalTurns:        in.TotalTurns,
		UptimeHours:       uptimeHours,
		ChildTributeCents: in.TributeCents,
	}
}

// Tier returns the survival tier for this snapshot's runway.
func (s Snapshot) Tier(th Thresholds) Tier {
	return TierFor(s.RunwayHours, th)
}

// SpawnDecision reports whether spawning n children is affordable given
// the current burn rate, and by how much it falls short when not.
type SpawnDecision struct {
	Affordable     bool
	Children       int
	ThresholdCents int64
	ShortfallCents int64
}

// SpawnGate decides affordability of spawning children. The threshold is
// one month of our own burn plus, per child, 80% of that again.
func SpawnGate(s Snapshot, children int) SpawnDecision {
	own := s.BurnPerHour * hoursPerMonth
	child := childCostFactor * own
	threshold := own + float64(children)*child

	thresholdCents := int64(math.Ceil(threshold))
	if s.BalanceCents >= thresholdCents {
		return SpawnDecision{
			Affordable:     true,
			Children:       children,
			ThresholdCents: thresholdCents,
		}
	}

	return SpawnDecision{
		Children:       children,
		ThresholdCents: thresholdCents,
		ShortfallCents: thresholdCents - s.BalanceCents,
	}
}

// ShouldSleep reports whether the agent should voluntarily go dormant:
// nothing pending, earning less than half of what it burns, and under a
// day of runway left.
func ShouldSleep(s Snapshot, pendingTasks int) bool {
	return pendingTasks == 0 &&
		s.EarnBurnRatio < sleepEarnBurnRatio &&
		s.RunwayHours < sleepRunwayHours
}
