package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lanrelay/internal/config"
	"lanrelay/internal/directory"
	"lanrelay/internal/event"
	"lanrelay/internal/httpserver"
	"lanrelay/internal/logger"
	"lanrelay/internal/protocol"
	"lanrelay/internal/relay"
	"lanrelay/internal/relayclient"
	"lanrelay/internal/stats"
)

func main() {
	var (
		mode       = flag.String("mode", "server", "run mode: server, client")
		configPath = flag.String("config", "", "config file path (YAML)")
		addr       = flag.String("addr", "127.0.0.1:4444", "relay server address (client mode)")
		username   = flag.String("user", "", "username to log in with (client mode)")
	)
	flag.Parse()

	switch *mode {
	case "server":
		if err := runServer(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
			os.Exit(1)
		}
	case "client":
		if err := runClient(*addr, *username); err != nil {
			fmt.Fprintf(os.Stderr, "client failed: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runServer 启动中继服务器，SIGINT/SIGTERM触发优雅关闭
func runServer(configPath string) error {
	bus := event.NewBus()
	defer bus.Close()

	manager := config.NewManager(
		config.WithConfigPath(configPath),
		config.WithWatchEnabled(configPath != ""),
	)
	cfg, err := manager.Load()
	if err != nil {
		return err
	}

	log := logger.New("[relay]", cfg.Logging.Debug)

	var dir directory.Directory
	if cfg.Database.Enabled {
		pg, err := directory.ConnectPostgres(context.Background(), &directory.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		dir = pg
		log.Printf("User directory backed by PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port)
	} else {
		dir = directory.NewMemory()
	}

	pipeline := stats.New(log, bus, wordListsFromConfig(cfg),
		stats.WithDrainInterval(cfg.Analysis.DrainInterval))
	pipeline.Start()
	defer pipeline.Stop()

	// 词表热替换，已计的数不重算
	manager.SetOnChange(func(cfg *config.Config) {
		pipeline.SetWordLists(wordListsFromConfig(cfg))
	})

	server := relay.NewServer(relay.DefaultServerConfig(cfg.Server.ListenAddr), log, dir, pipeline, bus)
	if err := server.Start(); err != nil {
		return err
	}

	var api *httpserver.APIServer
	if cfg.Server.HTTPAddr != "" {
		api = httpserver.NewAPIServer(cfg.Server.HTTPAddr, log, server, pipeline, bus)
		api.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Signal received, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if api != nil {
		if err := api.Shutdown(ctx); err != nil {
			log.Printf("API shutdown: %v", err)
		}
	}
	return server.Shutdown(ctx)
}

func wordListsFromConfig(cfg *config.Config) *stats.WordLists {
	return stats.NewWordLists(
		cfg.Analysis.FillWords,
		cfg.Analysis.TriggerWords.Positive,
		cfg.Analysis.TriggerWords.Neutral,
		cfg.Analysis.TriggerWords.Negative,
	)
}

// runClient 行式交互客户端，输入格式 "接收者: 消息文本"
func runClient(addr, username string) error {
	if username == "" {
		return fmt.Errorf("client mode requires -user")
	}

	cc := relayclient.DefaultClientConfig(addr, username)
	cc.Logger = logger.New("[client]", false)
	client := relayclient.New(cc)

	client.SetPushHandler(func(frame *protocol.Frame) {
		switch frame.Type {
		case protocol.TypeMessage:
			var msg protocol.Message
			if frame.DecodeHeader(&msg) == nil {
				fmt.Printf("<%s> %s\n", msg.SenderName, string(frame.Payload))
			}
		case protocol.TypeFile:
			var file protocol.File
			if frame.DecodeHeader(&file) == nil {
				fmt.Printf("<%s> sent file %s (%d bytes)\n", file.SenderName, file.Filename, file.PayloadSize)
			}
		case protocol.TypeStatusUpdate:
			fmt.Printf("* online: %s\n", strings.Join(client.OnlineUsers(), ", "))
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("connected as %s, known users: %s\n", username, strings.Join(client.KnownUsers(), ", "))
	fmt.Println(`type "receiver: message" to send, /quit to exit`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return client.Bye()
		}

		receiver, text, ok := strings.Cut(line, ":")
		if !ok {
			fmt.Println(`expected "receiver: message"`)
			continue
		}

		resp, err := client.SendText(strings.TrimSpace(receiver), strings.TrimSpace(text))
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
			continue
		}
		if resp.Status == protocol.StatusUserOffline {
			fmt.Printf("* %s is offline, message not delivered\n", resp.ReceiverName)
		}
	}
	return scanner.Err()
}
