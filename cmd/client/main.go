package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/weather-client/internal/channel"
	"github.com/smukkama/weather-client/internal/localstore"
	"github.com/smukkama/weather-client/internal/records"
	"github.com/smukkama/weather-client/pkg/config"
)

// Interactive weather client: submit a weather request, look up stored
// records by id, and ask the backend for an AI summary over the realtime
// channel. The API key and last-submitted record id are shared with other
// running instances through the local store.

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local persistence for the API key and last record id
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	store := localstore.New(redisClient, logger)
	if err := store.Start(ctx); err != nil {
		logger.Fatalf("Failed to start local store: %v", err)
	}
	defer store.Close()

	// Weather record store
	recordClient, err := records.NewClient(records.Options{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create weather store client: %v", err)
	}

	// Shared UI state, updated by the user and by other instances
	var (
		mu     sync.Mutex
		apiKey string
		lastID string
	)
	if key, err := store.APIKey(ctx); err == nil {
		apiKey = key
	}
	if id, err := store.LastRecordID(ctx); err == nil {
		lastID = id
	}

	go func() {
		for change := range store.Watch() {
			mu.Lock()
			switch change.Key {
			case localstore.KeyAPIKey:
				apiKey = change.Value
			case localstore.KeyLastRecordID:
				lastID = change.Value
			}
			mu.Unlock()
		}
	}()

	// Realtime summary channel
	ch := channel.New(channel.Options{
		URL:              cfg.Realtime.URL,
		ReconnectWait:    cfg.Realtime.ReconnectWait,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		Logger:           logger,
	})
	ch.OnSummaryResult(func(summary string) {
		fmt.Printf("\nSummary: %s\n> ", summary)
	})
	ch.OnSummaryError(func(err error) {
		fmt.Printf("\nSummary failed: %v\n> ", err)
	})
	ch.OnStateChange(func(old, new channel.State) {
		logger.WithFields(logrus.Fields{
			"from": old.String(),
			"to":   new.String(),
		}).Debug("Summary channel state changed")
	})
	defer ch.Close()

	if err := ch.Connect(); err != nil {
		// the channel keeps retrying on its own
		logger.Warnf("Summary service not reachable yet: %v", err)
	}

	fmt.Println("Weather client ready. Type 'help' for commands.")

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

	fmt.Print("> ")
	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %v, shutting down...\n", sig)
			return

		case line, ok := <-lines:
			if !ok {
				return
			}

			args := strings.Fields(line)
			if len(args) == 0 {
				fmt.Print("> ")
				continue
			}

			mu.Lock()
			key, id := apiKey, lastID
			mu.Unlock()

			switch args[0] {
			case "submit":
				if len(args) < 3 {
					fmt.Println("Usage: submit <date> <location> [notes...]")
					break
				}
				req := records.CreateRequest{
					Date:     args[1],
					Location: args[2],
					Notes:    strings.Join(args[3:], " "),
				}
				recordID, err := recordClient.Create(ctx, req)
				if err != nil {
					fmt.Printf("Submit failed: %v\n", err)
					break
				}
				fmt.Printf("Stored weather record %s\n", recordID)
				if err := store.SetLastRecordID(ctx, recordID); err != nil {
					logger.Warnf("Failed to remember record id: %v", err)
				}

			case "get":
				if len(args) > 1 {
					id = args[1]
				}
				if id == "" {
					fmt.Println("No record id; submit a request first or pass one: get <id>")
					break
				}
				record, err := recordClient.Get(ctx, id)
				if err != nil {
					fmt.Printf("Lookup failed: %v\n", err)
					break
				}
				printRecord(record)

			case "summary":
				if len(args) > 1 {
					id = args[1]
				}
				if err := ch.RequestSummary(id, key); err != nil {
					fmt.Printf("Summary request failed: %v\n", err)
					break
				}
				fmt.Println("Summary requested...")

			case "key":
				if len(args) != 2 {
					fmt.Println("Usage: key <api-key>")
					break
				}
				if err := store.SetAPIKey(ctx, args[1]); err != nil {
					fmt.Printf("Failed to save API key: %v\n", err)
					break
				}
				fmt.Println("API key saved")

			case "status":
				fmt.Printf("Channel: %s\n", ch.State())
				fmt.Printf("Last record id: %s\n", orNone(id))
				if key == "" {
					fmt.Println("API key: not set")
				} else {
					fmt.Println("API key: set")
				}

			case "help":
				printHelp()

			case "quit", "exit":
				return

			default:
				fmt.Printf("Unknown command %q. Type 'help' for commands.\n", args[0])
			}

			fmt.Print("> ")
		}
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func printRecord(record *records.WeatherRecord) {
	fmt.Printf("Record %s\n", record.ID)
	fmt.Printf("  Date:       %s\n", record.Date)
	fmt.Printf("  Location:   %s\n", record.Location)
	if record.Notes != "" {
		fmt.Printf("  Notes:      %s\n", record.Notes)
	}
	w := record.WeatherData
	fmt.Printf("  Conditions: %s, %.1f°F (feels like %.1f°F)\n", w.Description, w.Temperature, w.FeelsLike)
	fmt.Printf("  Wind:       %.1f mph %s\n", w.WindSpeed, w.WindDirection)
	fmt.Printf("  Humidity:   %.0f%%\n", w.Humidity)
	if record.CreatedAt != "" {
		fmt.Printf("  Created:    %s\n", record.CreatedAt)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  submit <date> <location> [notes...]  store a weather request (date is YYYY-MM-DD)")
	fmt.Println("  get [id]                             fetch a stored record (defaults to the last one)")
	fmt.Println("  summary [id]                         ask for an AI summary of a record")
	fmt.Println("  key <api-key>                        save the API key used for summaries")
	fmt.Println("  status                               show channel state and saved values")
	fmt.Println("  quit                                 exit")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
