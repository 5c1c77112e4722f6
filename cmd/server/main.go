package main

import (
	"context"
	"flag"
	"fmt"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/buzkaaclicker/chatgate/admission"
	"github.com/buzkaaclicker/chatgate/gateway"
	"github.com/buzkaaclicker/chatgate/persistent"
	"github.com/buzkaaclicker/chatgate/session"
	"github.com/buzkaaclicker/chatgate/transport/rest"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logrusys "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/tidwall/buntdb"
	"github.com/uptrace/bun"
)

const janitorInterval = time.Minute

type backends struct {
	sessions chatgate.SessionStore
	counter  admission.Counter
	close    func()
}

func openBackends(ctx context.Context, cfg config) backends {
	closers := make([]func(), 0, 2)
	b := backends{}

	var redisClient redis.UniversalClient
	if cfg.redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.redisAddr, Password: cfg.redisPassword})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logrus.WithError(err).Fatalln("Could not connect to redis.")
		}
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	switch cfg.sessionBackend {
	case "redis":
		b.sessions = &persistent.RedisSessionStore{Client: redisClient}
	default:
		bdb, err := buntdb.Open(cfg.buntPath)
		if err != nil {
			logrus.WithError(err).Fatalln("Could not open buntdb.")
		}
		closers = append(closers, func() { _ = bdb.Close() })
		store, err := persistent.NewSessionStore(bdb)
		if err != nil {
			logrus.WithError(err).Fatalln("Could not prepare session store.")
		}
		b.sessions = store
	}

	switch cfg.rateLimitBackend {
	case "redis":
		b.counter = &admission.RedisCounter{Client: redisClient, Prefix: "admission:"}
	default:
		counter := admission.NewMemoryCounter()
		go counter.RunJanitor(ctx, janitorInterval)
		b.counter = counter
	}

	b.close = func() {
		for _, closer := range closers {
			closer()
		}
	}
	return b
}

func listenAndServe(ctx context.Context, cfg config, b backends, db *bun.DB) func() error {
	directory := &persistent.Directory{DB: db}
	activityStore := &persistent.ActivityStore{DB: db}

	hub := gateway.NewHub()
	go hub.Run(ctx)

	manager := &session.Manager{
		Store:         b.sessions,
		ActivityStore: activityStore,
		TTL:           cfg.sessionTTL,
		MaxSessions:   cfg.maxSessions,
		OnEvicted: func(sessionIds []string) {
			hub.DisconnectSessions(sessionIds)
		},
	}

	server := fiber.New(serverConfig(cfg))
	server.Use(rest.LogHandler())
	server.Use(cors.New(cors.Config{AllowOrigins: cfg.allowOrigins}))
	server.Get("/status", monitor.New())

	gw := &gateway.Gateway{
		Hub:       hub,
		Sessions:  manager,
		Directory: directory,
		Origins:   cfg.wsOrigins(),
	}
	gw.InstallTo(server)

	api := &rest.Api{
		Limiter: &admission.Limiter{
			Counter: b.counter,
			Window:  cfg.rateLimitWindow,
			Max:     cfg.rateLimitMax,
		},
		Sessions:   manager,
		Directory:  directory,
		Activities: activityStore,
		Fanout:     hub,
	}
	api.InstallTo(server)

	server.Use(rest.NotFoundHandler)

	go func() {
		if err := server.Listen(cfg.listenAddr); err != nil {
			logrus.WithError(err).Fatalln("Could not listen.")
		}
	}()

	return func() error {
		return server.ShutdownWithTimeout(10 * time.Second)
	}
}

func setupLogger(verbose bool, useSyslog bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.Stamp,
		FullTimestamp:   true,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if !useSyslog {
		return
	}

	syslogHook, err := logrusys.NewSyslogHook("", "", syslog.LOG_USER, "chatgate")
	if err != nil {
		logrus.WithError(err).Fatalln("Could not create syslog hook.")
		return
	}
	logrus.AddHook(syslogHook)
}

func awaitInterruption() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// registerUser creates a user with a fresh api key and prints the key.
func registerUser(ctx context.Context, db *bun.DB, handle string) {
	apiKey := uuid.NewString()
	directory := &persistent.Directory{DB: db}
	userId, err := directory.RegisterUser(ctx, apiKey, handle)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not register user.")
	}
	fmt.Printf("user id: %d\napi key: %s\n", userId, apiKey)
}

func main() {
	register := flag.String("register", "", "register a user with given handle, print its api key and exit")
	flag.Parse()

	cfg := configFromEnv()
	setupLogger(cfg.debug, cfg.syslog)
	logrus.Infoln("Starting chatgate.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logrus.Infoln("Opening database.")
	db, err := persistent.PgOpen(ctx, cfg.pgDsn)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not open database.")
	}
	defer db.Close()
	if err := persistent.CreateSchema(ctx, db); err != nil {
		logrus.WithError(err).Fatalln("Could not create schema.")
	}

	if *register != "" {
		registerUser(ctx, db, *register)
		return
	}

	b := openBackends(ctx, cfg)
	defer b.close()

	logrus.WithField("addr", cfg.listenAddr).Infoln("Starting listening... To shut down use ^C")
	shutdown := listenAndServe(ctx, cfg, b, db)

	awaitInterruption()

	logrus.Infoln("Shutting down...")
	if err := shutdown(); err != nil {
		logrus.WithError(err).Warningln("Fiber shutdown failed.")
	}
	cancel()
}
