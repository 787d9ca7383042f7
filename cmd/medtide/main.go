package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/calebdore/medtide/internal/backup"
	"github.com/calebdore/medtide/internal/database"
	"github.com/calebdore/medtide/internal/lifecycle"
	"github.com/calebdore/medtide/internal/logging"
	"github.com/calebdore/medtide/internal/platform"
	"github.com/calebdore/medtide/internal/queue"
	"github.com/calebdore/medtide/internal/reconcile"
	"github.com/calebdore/medtide/internal/remote"
	"github.com/calebdore/medtide/internal/store"
	"github.com/calebdore/medtide/internal/trigger"
	"github.com/calebdore/medtide/internal/voice"
)

func main() {
	logger := logging.Setup(os.Getenv("MEDTIDE_LOG_LEVEL"))

	dbPath := envOr("MEDTIDE_DB_PATH", "medtide.db")
	voiceDir := envOr("MEDTIDE_VOICE_DIR", "voice-cache")
	patientID := os.Getenv("MEDTIDE_PATIENT_ID")
	if patientID == "" {
		log.Fatal("MEDTIDE_PATIENT_ID is required")
	}

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("MEDTIDE_S3_ENDPOINT"),
			Bucket:    os.Getenv("MEDTIDE_S3_BUCKET"),
			Region:    envOr("MEDTIDE_S3_REGION", "auto"),
			AccessKey: os.Getenv("MEDTIDE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("MEDTIDE_S3_SECRET_KEY"),
		},
		DBPath:     dbPath,
		DeviceID:   envOr("MEDTIDE_DEVICE_ID", "default"),
		Passphrase: os.Getenv("MEDTIDE_BACKUP_PASSPHRASE"),
	}

	// Fresh device with a configured snapshot bucket: pull state down
	// before the first open.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		restorer := backup.NewManager(backupCfg, nil, logger)
		if restorer.Enabled() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if rerr := restorer.Restore(ctx, dbPath); rerr != nil {
				logger.Warn("no snapshot restored, starting empty", "error", rerr)
			}
			cancel()
		}
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reminderStore := store.NewReminderStore(db)
	actionStore := store.NewActionStore(db)
	voiceStore := store.NewVoiceStore(db)
	syncStore := store.NewSyncStore(db)

	api := remote.NewClient(remote.Config{
		BaseURL: envOr("MEDTIDE_API_URL", "https://api.medtide.app"),
		Token:   os.Getenv("MEDTIDE_API_TOKEN"),
	}, logging.Component("remote"))

	voiceCache := voice.NewCache(voiceDir, voiceStore, logging.Component("voice"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var strategies []trigger.Strategy
	var player platform.AudioPlayer = platform.SilentPlayer{}
	var haptics platform.Haptics = platform.NoopHaptics{}

	// The event handler needs the controller, which does not exist yet;
	// it is installed with SetHandler once wiring is complete, and events
	// arriving before that are dropped by the bridge.
	bridgeURL := envOr("MEDTIDE_BRIDGE_URL", "ws://127.0.0.1:9310/events")
	bridge, err := platform.Dial(ctx, bridgeURL, nil, logging.Component("bridge"))
	if err != nil {
		logger.Warn("notification bridge unavailable, relying on fallback delivery", "error", err)
	} else {
		defer bridge.Close()
		strategies = append(strategies,
			trigger.NewNativeAlarm(bridge),
			trigger.NewChannelAlarm(bridge),
		)
		player = bridge
		haptics = platform.NewBridgeHaptics(bridge)
	}

	sub := trigger.Subscription{
		Endpoint:  os.Getenv("MEDTIDE_PUSH_ENDPOINT"),
		P256dhKey: os.Getenv("MEDTIDE_PUSH_P256DH"),
		AuthKey:   os.Getenv("MEDTIDE_PUSH_AUTH"),
	}
	if sub.Endpoint != "" {
		strategies = append(strategies, trigger.NewFallbackPush(sub, trigger.VAPIDConfig{
			PublicKey:  os.Getenv("MEDTIDE_VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("MEDTIDE_VAPID_PRIVATE_KEY"),
			Subscriber: envOr("MEDTIDE_VAPID_SUBSCRIBER", "mailto:noreply@medtide.app"),
		}, logging.Component("fallback")))
	}
	if len(strategies) == 0 {
		log.Fatal("no delivery strategy available: bridge unreachable and no push subscription configured")
	}

	sched := trigger.NewScheduler(strategies, reminderStore, logging.Component("trigger"))
	actionQueue := queue.New(actionStore, api, logging.Component("queue"))

	// The controller and the sync runner reference each other: the runner
	// consults the controller's presence check, the controller kicks the
	// runner after a user action. The runner side is late-bound; every
	// goroutine that can reach syncNow starts after the assignment below.
	var runner *reconcile.Runner
	controller := lifecycle.NewController(lifecycle.Config{
		SnoozeDelay:   envDuration("MEDTIDE_SNOOZE_MINUTES", 10*time.Minute),
		DefaultCueURI: envOr("MEDTIDE_DEFAULT_CUE", "asset://default-chime"),
	}, reminderStore, voiceStore, sched, actionQueue, platform.NewSessionGuard(player),
		haptics, func() { runner.SyncNow() }, logging.Component("lifecycle"))

	runner = reconcile.NewRunner(reconcile.Config{
		PatientID: patientID,
		Interval:  envDuration("MEDTIDE_SYNC_INTERVAL", 15*time.Minute),
	}, api, reminderStore, syncStore, sched, voiceCache, actionQueue, controller, logging.Component("reconcile"))

	if bridge != nil {
		bridge.SetHandler(func(ev platform.Event) { controller.HandleEvent(ctx, ev) })
	}

	sweeper := lifecycle.NewSweeper(controller, envDuration("MEDTIDE_SWEEP_INTERVAL", time.Minute))
	snapshots := backup.NewManager(backupCfg, db, logging.Component("backup"))

	runner.Start(ctx)
	sweeper.Start(ctx)
	snapshots.Start(ctx)

	fmt.Println("medtide engine running")
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	snapshots.Stop()
	sweeper.Stop()
	runner.Stop()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration reads a duration env var; bare integers are minutes.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if mins, err := strconv.Atoi(v); err == nil {
		return time.Duration(mins) * time.Minute
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
