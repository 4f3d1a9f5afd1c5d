package hub

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServerID == "" {
		t.Error("no server id minted")
	}
	if cfg.TickRate != 50*time.Millisecond {
		t.Errorf("tick rate = %v", cfg.TickRate)
	}
	if cfg.HeartbeatMissedThreshold != 2 {
		t.Errorf("missed threshold = %d", cfg.HeartbeatMissedThreshold)
	}
	if cfg.BinaryProtocol {
		t.Error("binary protocol on by default")
	}
	if cfg.Addr() != ":8081" {
		t.Errorf("addr = %q", cfg.Addr())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CORELAY_SERVER_ID", "server-a")
	t.Setenv("CORELAY_SERVER_PORT", "9090")
	t.Setenv("CORELAY_REDIS_HOST", "redis.internal")
	t.Setenv("CORELAY_TICK_RATE", "25ms")
	t.Setenv("CORELAY_STALE_ROOM_SWEEP_INTERVAL", "1h")
	t.Setenv("CORELAY_BINARY_PROTOCOL", "true")

	cfg := ConfigFromEnv()
	if cfg.ServerID != "server-a" {
		t.Errorf("server id = %q", cfg.ServerID)
	}
	if cfg.Port != "9090" || cfg.RedisHost != "redis.internal" {
		t.Errorf("port = %q, redis host = %q", cfg.Port, cfg.RedisHost)
	}
	if cfg.TickRate != 25*time.Millisecond {
		t.Errorf("tick rate = %v", cfg.TickRate)
	}
	if cfg.StaleRoomSweepInterval != time.Hour {
		t.Errorf("sweep interval = %v", cfg.StaleRoomSweepInterval)
	}
	if !cfg.BinaryProtocol {
		t.Error("binary protocol not enabled")
	}
}

func TestConfigFromEnvBareMilliseconds(t *testing.T) {
	t.Setenv("CORELAY_TICK_RATE", "75")
	cfg := ConfigFromEnv()
	if cfg.TickRate != 75*time.Millisecond {
		t.Errorf("tick rate = %v, want 75ms", cfg.TickRate)
	}
}

func TestConfigFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("CORELAY_TICK_RATE", "soon")
	t.Setenv("CORELAY_HEARTBEAT_MISSED_THRESHOLD", "-3")
	cfg := ConfigFromEnv()
	if cfg.TickRate != 50*time.Millisecond {
		t.Errorf("tick rate = %v, want default", cfg.TickRate)
	}
	if cfg.HeartbeatMissedThreshold != 2 {
		t.Errorf("missed threshold = %d, want default", cfg.HeartbeatMissedThreshold)
	}
}
