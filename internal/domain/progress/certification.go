package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// CertificationState tracks attempts at one certification level.
type CertificationState struct {
	Level    string `json:"level"`
	Achieved bool   `json:"achieved"`

	// Score is the best score seen so far, nil until the first attempt.
	Score *float64 `json:"score"`

	AttemptCount  int        `json:"attempt_count"`
	AchievedAt    *time.Time `json:"achieved_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
}

// CertificationOutcome reports the effects of one attempt.
type CertificationOutcome struct {
	Level       string
	AchievedNow bool
}

func newCertificationState(level string) *CertificationState {
	return &CertificationState{Level: level}
}

func (c *CertificationState) clone() *CertificationState {
	cp := *c
	if c.Score != nil {
		s := *c.Score
		cp.Score = &s
	}
	cp.AchievedAt = cloneTime(c.AchievedAt)
	cp.LastAttemptAt = cloneTime(c.LastAttemptAt)
	return &cp
}

// BestScore returns the running maximum score, 0 before any attempt.
func (c *CertificationState) BestScore() float64 {
	if c.Score == nil {
		return 0
	}
	return *c.Score
}

// RecordCertificationAttempt records an assessment attempt. The stored score
// is the maximum over all attempts. The first passing attempt marks the
// level achieved; later failures never revoke it.
func (p *UserProgress) RecordCertificationAttempt(
	topo *curriculum.Topology,
	level string,
	score float64,
	passed bool,
	now time.Time,
) (CertificationOutcome, error) {
	out := CertificationOutcome{Level: level}

	if !topo.HasCertification(level) {
		return out, fmt.Errorf("%w: %q", shared.ErrUnknownCertification, level)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return out, shared.ErrInvalidScore
	}

	cert, ok := p.Certifications[level]
	if !ok {
		cert = newCertificationState(level)
		p.Certifications[level] = cert
	}

	cert.AttemptCount++
	cert.LastAttemptAt = stamp(now)

	best := max(cert.BestScore(), score)
	cert.Score = &best

	if passed && !cert.Achieved {
		cert.Achieved = true
		cert.AchievedAt = stamp(now)
		out.AchievedNow = true
	}

	return out, nil
}
