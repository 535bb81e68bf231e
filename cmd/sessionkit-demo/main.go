// Package main runs a small HTTP server demonstrating sessionkit wiring:
// config loading, backend selection, the session middleware and a handful
// of endpoints exercising the handle operations.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/txn2/sessionkit/pkg/database/migrate"
	"github.com/txn2/sessionkit/pkg/session"
	"github.com/txn2/sessionkit/pkg/session/postgres"
	"github.com/txn2/sessionkit/pkg/session/redis"
	"github.com/txn2/sessionkit/pkg/session/token"
)

// Version is the demo build version.
const Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	addr        string
	backend     string
	postgresDSN string
	redisAddr   string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to session configuration file")
	flag.StringVar(&opts.addr, "addr", ":8080", "Listen address")
	flag.StringVar(&opts.backend, "backend", "memory", "Persistence backend: memory, postgres, redis")
	flag.StringVar(&opts.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string")
	flag.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "Redis address")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

// buildAdapter constructs the persistence adapter selected by flags. A nil
// adapter runs the manager memory-only.
func buildAdapter(opts serverOptions, cfg session.Config) (session.Adapter, func(), error) {
	switch opts.backend {
	case "memory":
		return nil, func() {}, nil

	case "postgres":
		if opts.postgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres backend requires -postgres-dsn")
		}
		db, err := sql.Open("postgres", opts.postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		store, err := postgres.New(db, postgres.Config{TableName: cfg.TableName})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil

	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: opts.redisAddr})
		store := redis.New(rdb, redis.Config{Namespace: cfg.TableName})
		return store, func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("sessionkit-demo version %s\n", Version)
		return nil
	}

	ctx := setupSignalHandler()

	cfg := session.DefaultConfig()
	if opts.configPath != "" {
		var err error
		cfg, err = session.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
	}

	adapter, closeAdapter, err := buildAdapter(opts, cfg)
	if err != nil {
		return err
	}
	defer closeAdapter()

	manager, err := session.NewManager(cfg, adapter)
	if err != nil {
		return err
	}
	if err := manager.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	carrier, err := token.NewCookieCarrier(token.CookieConfig{
		Name:     cfg.TokenName,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		HTTPOnly: cfg.Cookie.HTTPOnly,
		SameSite: token.ParseSameSite(cfg.Cookie.SameSite),
	})
	if err != nil {
		return err
	}

	handler := session.NewHandler(newMux(manager), session.HandlerConfig{
		Manager: manager,
		Carrier: carrier,
	})

	server := &http.Server{
		Addr:              opts.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("sessionkit-demo listening", "addr", opts.addr, "backend", opts.backend)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// newMux wires the demo endpoints around the session handle.
func newMux(manager *session.Manager) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			http.Error(w, "no session", http.StatusInternalServerError)
			return
		}
		if err := sess.Set(r.URL.Query().Get("k"), r.URL.Query().Get("v")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			http.Error(w, "no session", http.StatusInternalServerError)
			return
		}
		value, ok := session.Get[string](sess, r.URL.Query().Get("k"))
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fmt.Fprintln(w, value)
	})

	mux.HandleFunc("/renew", func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := session.FromContext(r.Context()); ok {
			sess.Renew()
		}
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/destroy", func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := session.FromContext(r.Context()); ok {
			sess.Destroy()
		}
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/count", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			http.Error(w, "no session", http.StatusInternalServerError)
			return
		}
		count, err := sess.Count(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		fmt.Fprintln(w, count)
	})

	mux.HandleFunc("/purge", func(w http.ResponseWriter, r *http.Request) {
		if err := manager.PurgeExpired(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	return mux
}
