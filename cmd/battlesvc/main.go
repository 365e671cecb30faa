package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/arenahub/battle-services/configs"
	"github.com/arenahub/battle-services/internal/battlesvc/broker"
	"github.com/arenahub/battle-services/internal/battlesvc/db"
	"github.com/arenahub/battle-services/internal/battlesvc/engine"
	"github.com/arenahub/battle-services/internal/battlesvc/fanout"
	handlers "github.com/arenahub/battle-services/internal/battlesvc/handlers"
	"github.com/arenahub/battle-services/internal/battlesvc/roomcode"
	"github.com/arenahub/battle-services/internal/battlesvc/service"
	"github.com/arenahub/battle-services/internal/battlesvc/store"
	nats "github.com/arenahub/battle-services/internal/nats"
)

const SERVICE_NAME = "battle"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

// enginePolicy reads the tie and forfeit product decisions from env so
// neither is hard-coded.
func enginePolicy() engine.Policy {
	p := engine.Policy{}
	if os.Getenv("TIE_POLICY") == "creator-wins" {
		p.Tie = engine.TieCreatorWins
	}
	if os.Getenv("FORFEIT_POLICY") == "no-winner" {
		p.Forfeit = engine.ForfeitNoWinner
	}
	return p
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// battle store, driver selected by env
	battleStore, err := store.Open(ctx)
	if err != nil {
		log.Fatalf("Failed to open battle store: %v", err)
	}
	defer db.ClosePool()
	defer db.CloseMongo(context.Background())
	log.Printf("battle store connection established successfully")

	matchmaking := service.NewMatchmaking(battleStore, roomcode.New(), engine.New(enginePolicy()))

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// republish store changes to watching clients
	fan := fanout.New(n.Conn, battleStore.Changes())
	go fan.Run(ctx)

	// battle commands arriving from the socket service
	b := broker.NewBroker(n.Conn, matchmaking)
	sub, err := b.QueueSubscribeRPC(SERVICE_NAME)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(matchmaking)
	h.InitAuth()
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("BATTLE_SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	sub.Unsubscribe()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
