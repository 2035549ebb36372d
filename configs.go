package replibridge

import (
	"fmt"

	"github.com/LemmyAI/replibridge/replication"
	"github.com/LemmyAI/replibridge/transport"
)

// Channel ids are one byte on the wire.
const maxChannels = 256

// ConnectionConfig converts the full channel registry into the transport
// channel agreement used to construct both server and client transports.
func ConnectionConfig(channels *replication.Channels) (transport.ConnectionConfig, error) {
	serverChannels, err := ServerChannelConfigs(channels)
	if err != nil {
		return transport.ConnectionConfig{}, err
	}
	clientChannels, err := ClientChannelConfigs(channels)
	if err != nil {
		return transport.ConnectionConfig{}, err
	}
	return transport.ConnectionConfig{
		ServerChannels: serverChannels,
		ClientChannels: clientChannels,
	}, nil
}

// ServerChannelConfigs converts the registered server-originated channels
// into transport channel configurations, preserving index-as-id.
func ServerChannelConfigs(channels *replication.Channels) ([]transport.ChannelConfig, error) {
	configs, err := channelConfigs(channels.ServerChannels(), channels.DefaultMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("server channels: %w", err)
	}
	return configs, nil
}

// ClientChannelConfigs converts the registered client-originated channels
// into transport channel configurations, preserving index-as-id.
func ClientChannelConfigs(channels *replication.Channels) ([]transport.ChannelConfig, error) {
	configs, err := channelConfigs(channels.ClientChannels(), channels.DefaultMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("client channels: %w", err)
	}
	return configs, nil
}

func channelConfigs(channels []replication.Channel, defaultMaxBytes int) ([]transport.ChannelConfig, error) {
	if len(channels) > maxChannels {
		return nil, fmt.Errorf("%d channels registered, channel ids are one byte (max %d)", len(channels), maxChannels)
	}
	if defaultMaxBytes <= 0 {
		defaultMaxBytes = replication.DefaultMaxBytes
	}

	configs := make([]transport.ChannelConfig, 0, len(channels))
	for id, channel := range channels {
		config := transport.ChannelConfig{
			ID:             uint8(id),
			MaxMemoryBytes: channel.MaxBytes,
		}
		if config.MaxMemoryBytes <= 0 {
			config.MaxMemoryBytes = defaultMaxBytes
		}

		switch channel.Kind {
		case replication.Unreliable:
			config.Delivery = transport.Unreliable
		case replication.Unordered:
			config.Delivery = transport.ReliableUnordered
			config.Resend = channel.Resend
		case replication.Ordered:
			config.Delivery = transport.ReliableOrdered
			config.Resend = channel.Resend
		default:
			return nil, fmt.Errorf("channel %d has unknown kind %v", id, channel.Kind)
		}
		if config.Delivery != transport.Unreliable && config.Resend <= 0 {
			config.Resend = replication.DefaultResend
		}

		configs = append(configs, config)
	}
	return configs, nil
}
