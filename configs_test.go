package replibridge

import (
	"testing"
	"time"

	"github.com/LemmyAI/replibridge/replication"
	"github.com/LemmyAI/replibridge/transport"
)

func TestChannelConfigs_Defaults(t *testing.T) {
	channels := replication.NewChannels()
	channels.AddServer(replication.Channel{Kind: replication.Ordered})

	configs, err := ServerChannelConfigs(channels)
	if err != nil {
		t.Fatalf("ServerChannelConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}

	cfg := configs[0]
	if cfg.ID != 0 {
		t.Errorf("expected id 0, got %d", cfg.ID)
	}
	if cfg.Delivery != transport.ReliableOrdered {
		t.Errorf("expected ReliableOrdered, got %v", cfg.Delivery)
	}
	if cfg.Resend != replication.DefaultResend {
		t.Errorf("expected default resend %v, got %v", replication.DefaultResend, cfg.Resend)
	}
	if cfg.MaxMemoryBytes != replication.DefaultMaxBytes {
		t.Errorf("expected default max bytes %d, got %d", replication.DefaultMaxBytes, cfg.MaxMemoryBytes)
	}
}

func TestChannelConfigs_KindMapping(t *testing.T) {
	channels := replication.NewChannels()
	channels.AddClient(replication.Channel{Kind: replication.Unreliable})
	channels.AddClient(replication.Channel{Kind: replication.Unordered})
	channels.AddClient(replication.Channel{Kind: replication.Ordered})

	configs, err := ClientChannelConfigs(channels)
	if err != nil {
		t.Fatalf("ClientChannelConfigs failed: %v", err)
	}

	if configs[0].Delivery != transport.Unreliable {
		t.Errorf("channel 0: expected Unreliable, got %v", configs[0].Delivery)
	}
	if configs[0].Resend != 0 {
		t.Errorf("channel 0: unreliable channels have no resend, got %v", configs[0].Resend)
	}
	if configs[1].Delivery != transport.ReliableUnordered {
		t.Errorf("channel 1: expected ReliableUnordered, got %v", configs[1].Delivery)
	}
	if configs[2].Delivery != transport.ReliableOrdered {
		t.Errorf("channel 2: expected ReliableOrdered, got %v", configs[2].Delivery)
	}
}

func TestChannelConfigs_Overrides(t *testing.T) {
	channels := replication.NewChannels()
	channels.DefaultMaxBytes = 1024
	channels.AddServer(replication.Channel{Kind: replication.Ordered, MaxBytes: 2048, Resend: 100 * time.Millisecond})
	channels.AddServer(replication.Channel{Kind: replication.Ordered})

	configs, err := ServerChannelConfigs(channels)
	if err != nil {
		t.Fatalf("ServerChannelConfigs failed: %v", err)
	}

	if configs[0].MaxMemoryBytes != 2048 {
		t.Errorf("expected per-channel max bytes 2048, got %d", configs[0].MaxMemoryBytes)
	}
	if configs[0].Resend != 100*time.Millisecond {
		t.Errorf("expected per-channel resend 100ms, got %v", configs[0].Resend)
	}
	if configs[1].MaxMemoryBytes != 1024 {
		t.Errorf("expected registry default 1024, got %d", configs[1].MaxMemoryBytes)
	}
}

func TestChannelConfigs_TooManyChannels(t *testing.T) {
	channels := replication.NewChannels()
	for i := 0; i < maxChannels+1; i++ {
		channels.AddClient(replication.Channel{Kind: replication.Unreliable})
	}

	if _, err := ClientChannelConfigs(channels); err == nil {
		t.Fatal("expected error for more than 256 channels")
	}
}

func TestConnectionConfig_Repeatable(t *testing.T) {
	channels := replication.NewChannels()
	channels.AddServer(replication.Channel{Kind: replication.Ordered})
	channels.AddClient(replication.Channel{Kind: replication.Unreliable})

	first, err := ConnectionConfig(channels)
	if err != nil {
		t.Fatalf("ConnectionConfig failed: %v", err)
	}
	second, err := ConnectionConfig(channels)
	if err != nil {
		t.Fatalf("ConnectionConfig failed on second call: %v", err)
	}

	if len(first.ServerChannels) != len(second.ServerChannels) ||
		len(first.ClientChannels) != len(second.ClientChannels) {
		t.Fatal("repeated conversion changed channel counts")
	}
	for i := range first.ServerChannels {
		if first.ServerChannels[i] != second.ServerChannels[i] {
			t.Errorf("server channel %d differs between conversions", i)
		}
	}
	for i := range first.ClientChannels {
		if first.ClientChannels[i] != second.ClientChannels[i] {
			t.Errorf("client channel %d differs between conversions", i)
		}
	}
}
