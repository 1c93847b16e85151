package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Servers) != 1 {
		t.Fatalf("expected 1 default server, got %d", len(cfg.Servers))
	}

	srv := cfg.Servers[0]
	if srv.Host != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, srv.Host)
	}
	if srv.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, srv.Port)
	}
	if srv.Workers != DefaultWorkers {
		t.Errorf("expected workers %d, got %d", DefaultWorkers, srv.Workers)
	}
	if srv.MaxPending != DefaultMaxPending {
		t.Errorf("expected max_pending %d, got %d", DefaultMaxPending, srv.MaxPending)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Engineering.ShowNerdStats {
		t.Error("expected ShowNerdStats false by default")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() returned unexpected error: %v", err)
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Servers) == 0 {
		t.Fatal("expected at least one server from defaults")
	}
	if cfg.Servers[0].Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Servers[0].Port)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"RAVEL_LOGGING_LEVEL": "debug",
	}
	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestConfigValidate_RejectsEmptyServers(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for config with no servers")
	}
}

func TestConfigValidate_RejectsBadPort(t *testing.T) {
	testCases := []int{0, -1, 99999}
	for _, port := range testCases {
		cfg := DefaultConfig()
		cfg.Servers[0].Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for port %d", port)
		}
	}
}

func TestConfigValidate_RejectsZeroWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers[0].Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}
}

func TestConfigValidate_RejectsDuplicateUpstreamNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers[0].Upstreams = []Upstream{
		{Name: "api", Host: "10.0.0.1", Port: 8080},
		{Name: "api", Host: "10.0.0.2", Port: 8080},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for duplicate upstream name")
	}
}

func TestConfigValidate_RejectsInvalidMatchKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers[0].VHosts = []VHost{
		{
			PrimaryName: "example.com",
			Rules:       []Rule{{MatchKind: "nonsense", UpstreamNames: []string{"api"}}},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid match_kind")
	}
}

func TestConfigValidate_AcceptsWildcardVHostWithoutPrimaryName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers[0].VHosts = []VHost{
		{Wildcard: true, Rules: []Rule{{MatchKind: "default", UpstreamNames: []string{"api"}}}},
	}
	cfg.Servers[0].Upstreams = []Upstream{{Name: "api", Host: "10.0.0.1", Port: 8080}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected wildcard vhost without primary_name to be valid, got: %v", err)
	}
}

func TestToDomainOrigin_FillsDefaults(t *testing.T) {
	u := Upstream{Name: "api", Host: "10.0.0.1", Port: 8080}
	origin := u.ToDomainOrigin()

	if origin.TargetConnCount != DefaultTargetConnCount {
		t.Errorf("expected default target_conn_count %d, got %d", DefaultTargetConnCount, origin.TargetConnCount)
	}
	if origin.RetryInterval != DefaultRetryInterval {
		t.Errorf("expected default retry_interval %v, got %v", DefaultRetryInterval, origin.RetryInterval)
	}
	if origin.Address() != "10.0.0.1:8080" {
		t.Errorf("expected address 10.0.0.1:8080, got %s", origin.Address())
	}
}

func TestToDomainVHost_ConvertsRulesAndHeaderPolicy(t *testing.T) {
	v := VHost{
		PrimaryName: "example.com",
		Aliases:     []string{"www.example.com"},
		Header:      HeaderPolicy{XForwardedFor: true},
		Rules: []Rule{
			{MatchKind: "exact", MatchString: "/api", LBMethod: "rtt", UpstreamNames: []string{"api"}},
		},
	}

	dv := v.ToDomainVHost(DefaultReqLogName, DefaultErrLogName)
	if dv.PrimaryName != "example.com" {
		t.Errorf("expected primary name example.com, got %s", dv.PrimaryName)
	}
	if len(dv.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(dv.Rules))
	}
	if !dv.Header.XForwardedFor {
		t.Error("expected XForwardedFor to carry through from config")
	}
	if !dv.Matches("www.example.com") {
		t.Error("expected alias match to carry through")
	}
	if dv.ReqLogName != DefaultReqLogName || dv.ErrLogName != DefaultErrLogName {
		t.Errorf("expected vhost to inherit server defaults %q/%q, got %q/%q",
			DefaultReqLogName, DefaultErrLogName, dv.ReqLogName, dv.ErrLogName)
	}
	if dv.Rules[0].ReqLogName != DefaultReqLogName || dv.Rules[0].ErrLogName != DefaultErrLogName {
		t.Errorf("expected rule to inherit vhost's (back-filled) logger names, got %q/%q",
			dv.Rules[0].ReqLogName, dv.Rules[0].ErrLogName)
	}
}

func TestToDomainVHost_RuleLoggerOverridesParents(t *testing.T) {
	v := VHost{
		PrimaryName: "example.com",
		ReqLogName:  "vhost-access",
		Rules: []Rule{
			{MatchKind: "default", ReqLogName: "rule-access", ErrLogName: "rule-error"},
		},
	}

	dv := v.ToDomainVHost(DefaultReqLogName, DefaultErrLogName)
	if dv.ReqLogName != "vhost-access" {
		t.Errorf("expected vhost's own req_log to win over server default, got %q", dv.ReqLogName)
	}
	if dv.Rules[0].ReqLogName != "rule-access" || dv.Rules[0].ErrLogName != "rule-error" {
		t.Errorf("expected rule's own logger names to win, got %q/%q", dv.Rules[0].ReqLogName, dv.Rules[0].ErrLogName)
	}
}

func TestLoad_Debounce(t *testing.T) {
	// regression guard: lastReload must not panic/race across successive Loads
	if _, err := Load(nil); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := Load(nil); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
}
