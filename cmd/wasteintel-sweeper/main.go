package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/config"
	"github.com/platinummonkey/wasteintel/pkg/storage/postgres"
)

var (
	expireSchedule = flag.String("expire-schedule", "0 */5 * * * *", "Cron schedule for ending expired sessions and invitations")
	runOnce        = flag.Bool("run-once", false, "Run every task once and exit")
	archiveDate    = flag.String("date", "", "Day to archive (YYYY-MM-DD). If empty, archives yesterday. Only used with --run-once")
	logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// sweeper runs the periodic maintenance of the credential store and audit trail
type sweeper struct {
	store    *postgres.Store
	archiver *audit.S3Archiver
	logger   *logrus.Logger
}

func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    4,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, nil)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	s := &sweeper{
		store:  postgres.NewStore(conns.Primary(), postgres.WithQueryTimeout(time.Minute)),
		logger: logger,
	}

	if cfg.Audit.ArchiveBucket != "" {
		dbSink, err := audit.NewDBSink(conns.Primary(), audit.WithReader(conns.Replica()))
		if err != nil {
			logger.Fatalf("Failed to create audit reader: %v", err)
		}
		client, err := audit.NewS3Client(context.Background(), audit.S3Config{
			Bucket:       cfg.Audit.ArchiveBucket,
			Prefix:       cfg.Audit.ArchivePrefix,
			Endpoint:     cfg.Audit.S3Endpoint,
			Region:       cfg.Audit.S3Region,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		})
		if err != nil {
			logger.Fatalf("Failed to create S3 client: %v", err)
		}
		s.archiver = audit.NewS3Archiver(client, dbSink, cfg.Audit.ArchiveBucket, cfg.Audit.ArchivePrefix)
	} else {
		logger.Warn("No audit archive bucket configured, archiving disabled")
	}

	// Run once mode (for backfilling)
	if *runOnce {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if *archiveDate != "" {
			day, err = time.Parse("2006-01-02", *archiveDate)
			if err != nil {
				logger.Fatalf("Invalid date format: %v", err)
			}
		}
		s.expire()
		if err := s.archive(day); err != nil {
			logger.Fatalf("Archive failed: %v", err)
		}
		return
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := c.AddFunc(*expireSchedule, s.expire); err != nil {
		logger.Fatalf("Failed to schedule expiry sweep: %v", err)
	}
	if s.archiver != nil {
		_, err := c.AddFunc(cfg.Audit.ArchiveSchedule, func() {
			if err := s.archive(time.Now().UTC().AddDate(0, 0, -1)); err != nil {
				logger.WithError(err).Error("Daily audit archive failed")
			}
		})
		if err != nil {
			logger.Fatalf("Failed to schedule audit archive: %v", err)
		}
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"expire_schedule":  *expireSchedule,
		"archive_schedule": cfg.Audit.ArchiveSchedule,
	}).Info("wasteintel sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()
	logger.Info("Sweeper stopped")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// expire ends sessions past their expiry and marks stale invitations expired
func (s *sweeper) expire() {
	ctx := context.Background()
	now := time.Now().UTC()

	sessions, err := s.store.ExpireSessions(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire sessions")
	}
	invitations, err := s.store.ExpireInvitations(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to expire invitations")
	}

	if sessions > 0 || invitations > 0 {
		s.logger.WithFields(logrus.Fields{
			"sessions":    sessions,
			"invitations": invitations,
		}).Info("Expiry sweep complete")
	}
}

func (s *sweeper) archive(day time.Time) error {
	if s.archiver == nil {
		return nil
	}
	result, err := s.archiver.ArchiveDay(context.Background(), day)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"key":      result.Key,
		"events":   result.Events,
		"checksum": result.Checksum,
		"skipped":  result.Skipped,
	}).Info("Audit archive complete")
	return nil
}
