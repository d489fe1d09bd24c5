package config

import (
	"testing"
)

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	tests := []string{"mydb.example.com", "192.168.1.100", "host.docker.internal"}

	for _, host := range tests {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveServiceHosts_LeavesEmptyRedisHost(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost"},
	}
	cfg.resolveServiceHosts()

	if cfg.Redis.Host != "" {
		t.Errorf("expected empty redis host to stay empty, got %q", cfg.Redis.Host)
	}

	want := "localhost"
	if IsRunningInDocker() {
		want = "host.docker.internal"
	}
	if cfg.Database.Host != want {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, want)
	}
}
