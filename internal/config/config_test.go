package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAT_IMAGES_PER_MINUTE", "")
	t.Setenv("SWEEP_OPERATOR_GRACE_HOURS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.MaxImageBytes != 5*1024*1024 {
		t.Fatalf("MaxImageBytes = %d", cfg.Chat.MaxImageBytes)
	}
	if cfg.Chat.MaxImagesPerMinute != 5 || cfg.Chat.MaxImagesPerHour != 20 {
		t.Fatalf("image counts = %d/%d", cfg.Chat.MaxImagesPerMinute, cfg.Chat.MaxImagesPerHour)
	}
	if cfg.Chat.BanDuration != 48*time.Hour {
		t.Fatalf("BanDuration = %s", cfg.Chat.BanDuration)
	}
	if cfg.Sweeper.Interval != time.Minute || cfg.Sweeper.WarningGrace != 5*time.Minute {
		t.Fatalf("sweeper timings = %s/%s", cfg.Sweeper.Interval, cfg.Sweeper.WarningGrace)
	}
	if cfg.Sweeper.OperatorGrace != 24*time.Hour {
		t.Fatalf("OperatorGrace = %s", cfg.Sweeper.OperatorGrace)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_IMAGES_PER_MINUTE", "9")
	t.Setenv("SWEEP_OPERATOR_GRACE_HOURS", "2")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.MaxImagesPerMinute != 9 {
		t.Fatalf("MaxImagesPerMinute = %d", cfg.Chat.MaxImagesPerMinute)
	}
	if cfg.Sweeper.OperatorGrace != 2*time.Hour {
		t.Fatalf("OperatorGrace = %s", cfg.Sweeper.OperatorGrace)
	}
	if !cfg.Kafka.Enabled() || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "nope")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid REDIS_DB")
	}
}
