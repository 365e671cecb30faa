// Sweeper service: the external scheduler that retires stale waiting
// battles. It never touches records directly; it calls Cancel through
// the matchmaking service as the session creator, so every retirement
// goes through the same lifecycle checks and fanout as a user action.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"

	config "github.com/arenahub/battle-services/configs"
	"github.com/arenahub/battle-services/internal/battlesvc/db"
	"github.com/arenahub/battle-services/internal/battlesvc/engine"
	"github.com/arenahub/battle-services/internal/battlesvc/roomcode"
	"github.com/arenahub/battle-services/internal/battlesvc/service"
	"github.com/arenahub/battle-services/internal/battlesvc/store"
)

const SERVICE_NAME = "sweeper"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	battleStore, err := store.Open(ctx)
	if err != nil {
		log.Fatalf("Failed to open battle store: %v", err)
	}
	defer db.ClosePool()
	defer db.CloseMongo(context.Background())
	log.Printf("battle store connection established successfully")

	matchmaking := service.NewMatchmaking(battleStore, roomcode.New(), engine.New(engine.Policy{}))

	maxAge := envMinutes("SWEEP_MAX_WAIT_MINUTES", 30)
	interval := envMinutes("SWEEP_INTERVAL_MINUTES", 5)

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			sweep(ctx, battleStore, matchmaking, maxAge)
		}),
	)
	if err != nil {
		log.Fatalf("Failed to schedule sweep job: %v", err)
	}

	sched.Start()
	log.Infof("%s service sweeping every %s, retiring waits older than %s", SERVICE_NAME, interval, maxAge)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	if err := sched.Shutdown(); err != nil {
		log.Errorf("scheduler shutdown: %v", err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

func sweep(ctx context.Context, battleStore store.Store, matchmaking *service.Matchmaking, maxAge time.Duration) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := battleStore.ListWaitingBefore(sweepCtx, cutoff)
	if err != nil {
		log.Errorf("Error listing stale waiting battles: %s", err)
		return
	}

	for _, b := range stale {
		// Cancel as the creator; a session someone joined between the
		// listing and this call fails the conditional write and is
		// left alone.
		if _, err := matchmaking.Cancel(sweepCtx, b.CreatorID, b.ID); err != nil {
			log.Infof("skipping stale battle %s: %s", b.ID, err)
			continue
		}
		log.Infof("retired stale waiting battle %s (code %s)", b.ID, b.RoomCode)
	}
}

func envMinutes(key string, def int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			return time.Duration(m) * time.Minute
		}
		log.Warnf("Invalid %s value, using default %d", key, def)
	}
	return time.Duration(def) * time.Minute
}
