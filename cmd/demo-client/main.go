// Command demo-client connects to the chat relay over the WebSocket
// transport. Lines typed on stdin are sent to the server; relayed chat
// lines are printed.
package main

import (
	"bufio"
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
	serverURL := flag.String("url", "", "server URL (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.Client.URL = *serverURL
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("client failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	channels := replication.NewChannels()
	channels.AddServer(replication.Channel{Kind: replication.Ordered})
	chatChannel := uint8(channels.AddClient(replication.Channel{Kind: replication.Ordered}))

	connection, err := replibridge.ConnectionConfig(channels)
	if err != nil {
		return fmt.Errorf("channel agreement: %w", err)
	}

	tr, err := ws.Dial(cfg.Client.URL, ws.DefaultConfig(connection), logger)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	logger.Info("connecting", zap.String("url", cfg.Client.URL))

	client := replication.NewClient()
	bridge := replibridge.NewClientBridge(client, channels, logger)
	bridge.SetTransport(tr)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(cfg.Client.TickRate))
	defer ticker.Stop()

	wasConnected := false
	for {
		select {
		case <-sigCh:
			logger.Info("disconnecting")
			return tr.Close()
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return tr.Close()
			}
			client.Send(chatChannel, []byte(line))
			continue
		case <-ticker.C:
		}

		bridge.PreUpdate()

		switch {
		case client.IsConnected() && !wasConnected:
			wasConnected = true
			id, _ := client.NetworkID()
			fmt.Printf("connected as guest-%d\n", id)
			client.Send(chatChannel, []byte(fmt.Sprintf("hello, I am %s", cfg.Client.Name)))
		case client.IsDisconnected():
			if wasConnected {
				fmt.Printf("disconnected: %s\n", tr.DisconnectReason())
			} else {
				fmt.Printf("could not connect: %s\n", tr.DisconnectReason())
			}
			return nil
		}

		for _, msg := range client.DrainReceived() {
			fmt.Println(string(msg.Payload))
		}

		bridge.PostUpdate()
	}
}
