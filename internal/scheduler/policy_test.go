package scheduler

import "testing"

func TestPolicyValidate(t *testing.T) {
	cases := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: DefaultPolicy()},
		{name: "zero concurrency", policy: Policy{Enabled: true, GlobalConcurrency: 0, TenantMaxActive: 1, QueueMax: 1}, wantErr: true},
		{name: "zero tenant max", policy: Policy{Enabled: true, GlobalConcurrency: 1, TenantMaxActive: 0, QueueMax: 1}, wantErr: true},
		{name: "zero queue max", policy: Policy{Enabled: true, GlobalConcurrency: 1, TenantMaxActive: 1, QueueMax: 0}, wantErr: true},
	}
	for _, tc := range cases {
		err := tc.policy.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
	}
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("FORGELINE_SCHED_ENABLED", "false")
	t.Setenv("FORGELINE_SCHED_CONCURRENCY", "7")
	t.Setenv("FORGELINE_SCHED_TENANT_MAX_ACTIVE", "3")
	t.Setenv("FORGELINE_SCHED_QUEUE_MAX", "50")

	policy, err := PolicyFromEnv()
	if err != nil {
		t.Fatalf("PolicyFromEnv: %v", err)
	}
	if policy.Enabled {
		t.Fatalf("enabled = true, want false")
	}
	if policy.GlobalConcurrency != 7 || policy.TenantMaxActive != 3 || policy.QueueMax != 50 {
		t.Fatalf("policy = %+v", policy)
	}
}

func TestPolicyFromEnvDefaults(t *testing.T) {
	policy, err := PolicyFromEnv()
	if err != nil {
		t.Fatalf("PolicyFromEnv: %v", err)
	}
	if policy != DefaultPolicy() {
		t.Fatalf("policy = %+v, want defaults", policy)
	}
}

func TestPolicyFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("FORGELINE_SCHED_CONCURRENCY", "lots")
	if _, err := PolicyFromEnv(); err == nil {
		t.Fatalf("expected error for non-numeric concurrency")
	}
}

func TestPolicyManagerSwap(t *testing.T) {
	manager, err := NewPolicyManager(DefaultPolicy())
	if err != nil {
		t.Fatalf("NewPolicyManager: %v", err)
	}
	updated, err := manager.Update(Policy{Enabled: false, GlobalConcurrency: 1, TenantMaxActive: 1, QueueMax: 5})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := manager.Get(); got != updated {
		t.Fatalf("Get = %+v, want %+v", got, updated)
	}
	if _, err := manager.Update(Policy{}); err == nil {
		t.Fatalf("invalid policy must be rejected")
	}
	if _, err := NewPolicyManager(Policy{}); err == nil {
		t.Fatalf("invalid initial policy must be rejected")
	}
}
