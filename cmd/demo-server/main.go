// Command demo-server runs a chat relay over the WebSocket transport. Every
// line a client sends is broadcast to all connected clients, tagged with the
// sender's handle.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge"
	"github.com/LemmyAI/replibridge/internal/config"
	"github.com/LemmyAI/replibridge/internal/observability"
	"github.com/LemmyAI/replibridge/replication"
	"github.com/LemmyAI/replibridge/transport/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	channels := replication.NewChannels()
	chatChannel := uint8(channels.AddServer(replication.Channel{Kind: replication.Ordered}))
	channels.AddClient(replication.Channel{Kind: replication.Ordered})

	connection, err := replibridge.ConnectionConfig(channels)
	if err != nil {
		return fmt.Errorf("channel agreement: %w", err)
	}

	wsConfig := ws.DefaultConfig(connection)
	wsConfig.MaxClients = cfg.Server.MaxClients
	tr, err := ws.NewServer(wsConfig, logger)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	if err := tr.Listen(cfg.Server.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("listening", zap.String("addr", tr.Addr()))

	server := replication.NewServer()
	clients := replication.NewClientTable()
	bridge := replibridge.NewServerBridge(server, clients, channels, logger)
	bridge.SetTransport(tr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	names := make(map[replication.ClientID]string)
	ticker := time.NewTicker(time.Second / time.Duration(cfg.Server.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			tr.DisconnectAll()
			bridge.PostUpdate()
			bridge.ClearTransport()
			bridge.PostUpdate()
			return tr.Close()
		case <-ticker.C:
		}

		bridge.PreUpdate()

		for _, event := range clients.DrainEvents() {
			if event.Connected {
				names[event.Client] = fmt.Sprintf("guest-%d", event.NetworkID)
				logger.Info("client joined",
					zap.String("name", names[event.Client]),
					zap.Uint64("network_id", event.NetworkID))
				server.Broadcast(chatChannel, []byte(fmt.Sprintf("* %s joined", names[event.Client])))
			} else {
				name := names[event.Client]
				delete(names, event.Client)
				logger.Info("client left",
					zap.String("name", name),
					zap.Stringer("reason", event.Reason))
				server.Broadcast(chatChannel, []byte(fmt.Sprintf("* %s left (%s)", name, event.Reason)))
			}
		}

		for _, msg := range server.DrainReceived() {
			name := names[msg.Client]
			text := string(msg.Payload)
			if text == "/quit" {
				clients.RequestDisconnect(msg.Client)
				continue
			}
			server.Broadcast(chatChannel, []byte(fmt.Sprintf("%s: %s", name, text)))
		}

		bridge.PostUpdate()
	}
}
