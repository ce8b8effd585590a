package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/scribble/internal/api"
	"github.com/manpreetbhatti/scribble/internal/archive"
	"github.com/manpreetbhatti/scribble/internal/canvas"
	"github.com/manpreetbhatti/scribble/internal/checkpoint"
	"github.com/manpreetbhatti/scribble/internal/config"
	"github.com/manpreetbhatti/scribble/internal/db"
	"github.com/manpreetbhatti/scribble/internal/discovery"
	"github.com/manpreetbhatti/scribble/internal/journal"
	"github.com/manpreetbhatti/scribble/internal/metrics"
	"github.com/manpreetbhatti/scribble/internal/ratelimit"
	"github.com/manpreetbhatti/scribble/internal/telemetry"
	"github.com/manpreetbhatti/scribble/internal/ws"
)

type serveFlags struct {
	host   string
	port   string
	dbPath string
	mdns   bool
}

func serveCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the canvas server",
		Long: `Run the canvas server.

Settings come from the environment (and a .env file if present).
Flags override the environment.

Examples:
  scribble serve
  scribble serve --port=9000 --db=off
  scribble serve --mdns`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("host") {
				cfg.ServerHost = flags.host
			}
			if cmd.Flags().Changed("port") {
				cfg.ServerPort = flags.port
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = flags.dbPath
			}
			if cmd.Flags().Changed("mdns") {
				cfg.MDNSEnabled = flags.mdns
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServer(cfg)
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "Interface to listen on")
	cmd.Flags().StringVarP(&flags.port, "port", "p", "8080", "Port to listen on")
	cmd.Flags().StringVar(&flags.dbPath, "db", "", `SQLite database path, or "off" to run without storage`)
	cmd.Flags().BoolVar(&flags.mdns, "mdns", false, "Advertise the server on the local network")

	return cmd
}

func runServer(cfg *config.Config) error {
	metrics.Init(metrics.WithNamespace(cfg.MetricsNamespace))

	if cfg.TracingEnabled() {
		shutdownTracer, err := telemetry.InitJaeger("scribble", version, cfg.JaegerEndpoint)
		if err != nil {
			log.Printf("⚠️ Tracing disabled: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				shutdownTracer(ctx)
			}()
			log.Printf("🔭 Tracing to %s", cfg.JaegerEndpoint)
		}
	}

	var (
		database *db.Database
		writer   *journal.Writer
	)
	hubOpts := ws.Options{
		Canvas:            canvas.Options{Limits: cfg.Limits()},
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		SendQueueSize:     cfg.SendQueueSize,
		MaxRooms:          cfg.MaxRooms,
	}

	if cfg.StorageEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return err
		}

		var err error
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()

		writer = journal.NewWriter(database, 0)
		hubOpts.Canvas.Journal = writer
	}

	hub := ws.NewHub(hubOpts)

	var checkpoints *checkpoint.Service
	if database != nil {
		checkpoints = checkpoint.New(database, hub, checkpoint.Config{
			Interval:    cfg.CheckpointInterval,
			KeepAuto:    cfg.CheckpointKeepAuto,
			KeepJournal: cfg.JournalKeep,
		})

		if cfg.ArchiveEnabled() {
			client := archive.NewS3Client(archive.Config{
				Bucket:          cfg.S3Bucket,
				Prefix:          cfg.S3Prefix,
				Region:          cfg.S3Region,
				Endpoint:        cfg.S3Endpoint,
				AccessKeyID:     cfg.AWSAccessKeyID,
				SecretAccessKey: cfg.AWSSecretAccessKey,
			})
			checkpoints.SetArchiver(archive.NewS3Archiver(client, cfg.S3Bucket, cfg.S3Prefix))
			log.Printf("🪣 Archiving checkpoints to s3://%s/%s", cfg.S3Bucket, cfg.S3Prefix)
		}

		checkpoints.Start()
	}

	var advertiser *mdns.Server
	if cfg.MDNSEnabled {
		port, _ := strconv.Atoi(cfg.ServerPort)
		server, err := discovery.Advertise(cfg.MDNSInstance, port, nil)
		if err != nil {
			log.Printf("⚠️ mDNS disabled: %v", err)
		} else {
			advertiser = server
			log.Printf("📡 Advertising %s on the local network", discovery.ServiceType)
		}
	}

	limiters := ratelimit.NewClientLimiters(cfg.MessagesPerSecond, cfg.MessageBurst)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.SetupRoutes(api.New(hub, database, checkpoints), limiters),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Printf("🎨 Scribble server starting on %s", cfg.Addr())
	if database != nil {
		log.Printf("📁 Database: %s", cfg.DBPath)
	} else {
		log.Println("📁 Storage disabled")
	}
	log.Println("Endpoints:")
	log.Println("  - WebSocket:   /ws?room={roomId}")
	log.Println("  - Health:      GET /health")
	log.Println("  - Metrics:     GET /metrics")
	log.Println("  - Stats:       GET /api/stats")
	log.Println("  - Rooms:       GET /api/rooms")
	log.Println("  - Room:        GET/DELETE /api/rooms/{id}")
	log.Println("  - History:     GET /api/rooms/{id}/history")
	log.Println("  - Events:      GET /api/rooms/{id}/events?after=N")
	log.Println("  - Export:      GET /api/rooms/{id}/export.pdf")
	log.Println("  - Checkpoints: GET/POST /api/checkpoints")
	log.Println("  - Checkpoint:  GET/DELETE /api/checkpoints/{id}")
	log.Println("  - Diff:        GET /api/checkpoints/diff?from=X&to=Y")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigChan:
	case serveErr = <-errCh:
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	if advertiser != nil {
		advertiser.Shutdown()
	}
	if checkpoints != nil {
		checkpoints.Stop()
	}
	limiters.Stop()
	hub.Shutdown()
	if writer != nil {
		writer.Close()
		if dropped := writer.Dropped(); dropped > 0 {
			log.Printf("⚠️ Journal dropped %d entries", dropped)
		}
	}

	return serveErr
}
