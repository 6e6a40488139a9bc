package config

import "testing"

func TestLoadSplitsKafkaBrokerList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-0:9092, kafka-1:9092,kafka-2:9092")

	cfg := Load()
	want := []string{"kafka-0:9092", "kafka-1:9092", "kafka-2:9092"}
	if len(cfg.KafkaBrokers) != len(want) {
		t.Fatalf("got %v, want %v", cfg.KafkaBrokers, want)
	}
	for i := range want {
		if cfg.KafkaBrokers[i] != want[i] {
			t.Fatalf("broker %d = %q, want %q", i, cfg.KafkaBrokers[i], want[i])
		}
	}
}

func TestLoadSingleBroker(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-0:9092")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka-0:9092" {
		t.Fatalf("got %v, want the single configured broker", cfg.KafkaBrokers)
	}
}

func TestLoadBrokerDefault(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("got %v, want the default broker", cfg.KafkaBrokers)
	}
}

func TestLoadBrokerListOfSeparatorsFallsBack(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ,")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("got %v, want the default broker", cfg.KafkaBrokers)
	}
}
