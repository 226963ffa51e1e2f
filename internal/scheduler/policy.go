package scheduler

import (
	"fmt"
	"sync"

	"github.com/forgeline-labs/forgeline-go/internal/platform/env"
)

// Policy bounds what the scheduler may lease. It lives in memory and is
// mutable at runtime through the admin surface.
type Policy struct {
	Enabled           bool `json:"enabled"`
	GlobalConcurrency int  `json:"globalConcurrency"`
	TenantMaxActive   int  `json:"tenantMaxActive"`
	QueueMax          int  `json:"queueMax"`
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:           true,
		GlobalConcurrency: 2,
		TenantMaxActive:   1,
		QueueMax:          100,
	}
}

func (p Policy) Validate() error {
	if p.GlobalConcurrency < 1 {
		return fmt.Errorf("global concurrency must be >= 1")
	}
	if p.TenantMaxActive < 1 {
		return fmt.Errorf("tenant max active must be >= 1")
	}
	if p.QueueMax < 1 {
		return fmt.Errorf("queue max must be >= 1")
	}
	return nil
}

// PolicyFromEnv reads the initial policy from the environment, falling
// back to defaults for unset variables.
func PolicyFromEnv() (Policy, error) {
	def := DefaultPolicy()
	enabled, err := env.Bool("FORGELINE_SCHED_ENABLED", def.Enabled)
	if err != nil {
		return Policy{}, err
	}
	concurrency, err := env.Int("FORGELINE_SCHED_CONCURRENCY", def.GlobalConcurrency)
	if err != nil {
		return Policy{}, err
	}
	tenantMax, err := env.Int("FORGELINE_SCHED_TENANT_MAX_ACTIVE", def.TenantMaxActive)
	if err != nil {
		return Policy{}, err
	}
	queueMax, err := env.Int("FORGELINE_SCHED_QUEUE_MAX", def.QueueMax)
	if err != nil {
		return Policy{}, err
	}
	policy := Policy{
		Enabled:           enabled,
		GlobalConcurrency: concurrency,
		TenantMaxActive:   tenantMax,
		QueueMax:          queueMax,
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// PolicyManager guards the live policy for concurrent readers.
type PolicyManager struct {
	mu     sync.RWMutex
	policy Policy
}

func NewPolicyManager(policy Policy) (*PolicyManager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &PolicyManager{policy: policy}, nil
}

func (m *PolicyManager) Get() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

func (m *PolicyManager) Update(policy Policy) (Policy, error) {
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
	return m.policy, nil
}
