package config

import "time"

// RealtimeConfig tunes the push channel.  The server sends a heartbeat frame
// every Heartbeat and drops a socket that has been silent for two intervals.
// When a Redis client is available, every mutation is published on
// RedisChannel so that all server instances fan it out to their sockets.
type RealtimeConfig struct {
    Heartbeat    time.Duration
    WriteTimeout time.Duration
    SendBuffer   int
    RedisChannel string
}

func LoadRealtimeConfig() RealtimeConfig {
    cfg := RealtimeConfig{
        Heartbeat:    envDur("REALTIME_HEARTBEAT", 30*time.Second),
        WriteTimeout: envDur("REALTIME_WRITE_TIMEOUT", 10*time.Second),
        SendBuffer:   envInt("REALTIME_SEND_BUFFER", 64),
        RedisChannel: envStr("REALTIME_REDIS_CHANNEL", "brick:changes"),
    }
    if cfg.Heartbeat <= 0 { cfg.Heartbeat = 30 * time.Second }
    if cfg.WriteTimeout <= 0 { cfg.WriteTimeout = 10 * time.Second }
    if cfg.SendBuffer < 1 { cfg.SendBuffer = 1 }
    return cfg
}
