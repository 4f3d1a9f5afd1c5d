package hub

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds the server process configuration.
type Config struct {
	// ServerID uniquely identifies this process among its peers. Used to
	// ignore replication events the process published itself.
	// Default: a random UUID per start.
	ServerID string

	// Hostname is the interface to bind. Default: "" (all interfaces).
	Hostname string

	// Port is the HTTP/websocket listen port. Default: "8081".
	Port string

	// RedisHost, RedisPort, and RedisPassword locate the shared store.
	// Defaults: "localhost", "6379", "".
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// TickRate is the queue drain interval. All room mutations wait at most
	// one tick before running. Default: 50ms.
	TickRate time.Duration

	// HeartbeatInterval is the time between pulse probes.
	// Default: 10 seconds.
	HeartbeatInterval time.Duration

	// HeartbeatMissedThreshold is the number of unanswered pulses after
	// which a socket is terminated. Default: 2.
	HeartbeatMissedThreshold int

	// StaleRoomSweepInterval is the time between stale-room sweeps. Zero
	// disables the in-process sweeper (use the standalone sweep command
	// instead). Default: 6 hours.
	StaleRoomSweepInterval time.Duration

	// BinaryProtocol selects the compact binary wire codec instead of the
	// JSON text codec. Both ends must agree. Default: false.
	BinaryProtocol bool

	// ShutdownTimeout bounds graceful shutdown. Default: 15 seconds.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults and a fresh server
// id.
func DefaultConfig() Config {
	return Config{
		ServerID:                 uuid.NewString(),
		Port:                     "8081",
		RedisHost:                "localhost",
		RedisPort:                "6379",
		TickRate:                 50 * time.Millisecond,
		HeartbeatInterval:        10 * time.Second,
		HeartbeatMissedThreshold: 2,
		StaleRoomSweepInterval:   6 * time.Hour,
		ShutdownTimeout:          15 * time.Second,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by CORELAY_* environment
// variables. Unset or malformed values keep their defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	setString(&cfg.ServerID, "CORELAY_SERVER_ID")
	setString(&cfg.Hostname, "CORELAY_SERVER_HOSTNAME")
	setString(&cfg.Port, "CORELAY_SERVER_PORT")
	setString(&cfg.RedisHost, "CORELAY_REDIS_HOST")
	setString(&cfg.RedisPort, "CORELAY_REDIS_PORT")
	setString(&cfg.RedisPassword, "CORELAY_REDIS_PASSWORD")
	setDuration(&cfg.TickRate, "CORELAY_TICK_RATE")
	setDuration(&cfg.HeartbeatInterval, "CORELAY_HEARTBEAT_INTERVAL")
	setInt(&cfg.HeartbeatMissedThreshold, "CORELAY_HEARTBEAT_MISSED_THRESHOLD")
	setDuration(&cfg.StaleRoomSweepInterval, "CORELAY_STALE_ROOM_SWEEP_INTERVAL")
	setBool(&cfg.BinaryProtocol, "CORELAY_BINARY_PROTOCOL")

	return cfg
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return c.Hostname + ":" + c.Port
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
		return
	}
	// Bare numbers are taken as milliseconds, matching the historical
	// deployment configs.
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
