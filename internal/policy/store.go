package policy

import (
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"

	"gopkg.in/yaml.v3"
)

// ErrNoOpUpdate rejects administrative updates that change nothing.
var ErrNoOpUpdate = fmt.Errorf("policy update is empty or changes nothing")

// VersionSink persists superseded policy versions for audit. The gorm store
// implements it; a nil sink keeps history in memory only.
type VersionSink interface {
	SavePolicyVersion(p RiskPolicy) error
}

// Store holds the effective RiskPolicy. Single administrative writer,
// many readers; readers always see a fully-replaced policy.
type Store struct {
	mu       sync.RWMutex
	current  RiskPolicy
	versions []RiskPolicy
	sink     VersionSink
	nowFn    func() time.Time
}

func NewStore(initial RiskPolicy, sink VersionSink) (*Store, error) {
	if initial.Version <= 0 {
		initial.Version = 1
	}
	if err := initial.validate(); err != nil {
		return nil, fmt.Errorf("initial policy invalid: %w", err)
	}
	s := &Store{sink: sink, nowFn: time.Now}
	initial.EffectiveAt = s.nowFn().UTC()
	s.current = initial
	s.versions = []RiskPolicy{initial}
	if sink != nil {
		if err := sink.SavePolicyVersion(initial); err != nil {
			return nil, fmt.Errorf("persist initial policy: %w", err)
		}
	}
	return s, nil
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// Current returns the effective policy.
func (s *Store) Current() RiskPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies a partial patch as a full replacement: the new policy is
// built, validated, versioned and swapped in atomically. The superseded
// version is retained for audit. Returns the new effective policy.
func (s *Store) Update(patch Patch) (RiskPolicy, error) {
	if patch.Empty() {
		return RiskPolicy{}, ErrNoOpUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.applyTo(s.current)
	prev := s.current
	next.Version = prev.Version + 1
	next.EffectiveAt = s.nowFn().UTC()
	if next.withoutMeta() == prev.withoutMeta() {
		return RiskPolicy{}, ErrNoOpUpdate
	}
	if err := next.validate(); err != nil {
		return RiskPolicy{}, fmt.Errorf("policy update rejected: %w", err)
	}
	if s.sink != nil {
		if err := s.sink.SavePolicyVersion(next); err != nil {
			return RiskPolicy{}, fmt.Errorf("persist policy version: %w", err)
		}
	}
	s.current = next
	s.versions = append(s.versions, next)
	logger.Infof("policy: v%d -> v%d (min_confidence=%.2f max_position=%.1f%% max_daily_loss=%.1f%% max_risk=%.0f)",
		prev.Version, next.Version, next.MinConfidence, next.MaxPositionSizePct, next.MaxDailyLossPct, next.MaxRiskScore)
	return next, nil
}

// Replace installs a complete policy (hot-reload path). Same versioning and
// audit rules as Update.
func (s *Store) Replace(next RiskPolicy) (RiskPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current
	next.Version = prev.Version + 1
	next.EffectiveAt = s.nowFn().UTC()
	if next.withoutMeta() == prev.withoutMeta() {
		return RiskPolicy{}, ErrNoOpUpdate
	}
	if err := next.validate(); err != nil {
		return RiskPolicy{}, fmt.Errorf("policy replace rejected: %w", err)
	}
	if s.sink != nil {
		if err := s.sink.SavePolicyVersion(next); err != nil {
			return RiskPolicy{}, fmt.Errorf("persist policy version: %w", err)
		}
	}
	s.current = next
	s.versions = append(s.versions, next)
	logger.Infof("policy: replaced v%d -> v%d", prev.Version, next.Version)
	return next, nil
}

// SeedHistory installs previously persisted versions older than the current
// one, so version lookups keep working across restarts. Call once, before
// the store is shared.
func (s *Store) SeedHistory(history []RiskPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	older := make([]RiskPolicy, 0, len(history))
	for _, p := range history {
		if p.Version > 0 && p.Version < s.current.Version {
			older = append(older, p)
		}
	}
	if len(older) == 0 {
		return
	}
	s.versions = append(older, s.versions...)
}

// withoutMeta strips version/effective-at for change comparison.
func (p RiskPolicy) withoutMeta() RiskPolicy {
	p.Version = 0
	p.EffectiveAt = time.Time{}
	return p
}

// Versions returns all policy versions, oldest first.
func (s *Store) Versions() []RiskPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RiskPolicy, len(s.versions))
	copy(out, s.versions)
	return out
}

// Version resolves a historical version number.
func (s *Store) Version(n int) (RiskPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.Version == n {
			return v, true
		}
	}
	return RiskPolicy{}, false
}

// AuditYAML renders the full version history as YAML for operator export.
func (s *Store) AuditYAML() (string, error) {
	versions := s.Versions()
	out, err := yaml.Marshal(map[string]any{"policy_versions": versions})
	if err != nil {
		return "", fmt.Errorf("render policy audit: %w", err)
	}
	return string(out), nil
}
