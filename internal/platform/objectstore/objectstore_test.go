package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		ArtifactsBucket: "artifacts",
		ReleasesBucket:  "releases",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.Endpoint = " " }},
		{"empty access key", func(c *Config) { c.AccessKeyID = "" }},
		{"empty secret key", func(c *Config) { c.SecretAccessKey = "" }},
		{"empty artifacts bucket", func(c *Config) { c.ArtifactsBucket = "" }},
		{"empty releases bucket", func(c *Config) { c.ReleasesBucket = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Endpoint != "localhost:9000" {
		t.Fatalf("endpoint default = %q", cfg.Endpoint)
	}
	if got := cfg.Buckets(); len(got) != 2 || got[0] != "forgeline-artifacts" || got[1] != "forgeline-releases" {
		t.Fatalf("buckets = %v", got)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("OBJECTSTORE_ENDPOINT", "minio.internal:9000")
	t.Setenv("OBJECTSTORE_USE_SSL", "true")
	t.Setenv("OBJECTSTORE_ARTIFACTS_BUCKET", "custom-artifacts")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Endpoint != "minio.internal:9000" || !cfg.UseSSL || cfg.ArtifactsBucket != "custom-artifacts" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
