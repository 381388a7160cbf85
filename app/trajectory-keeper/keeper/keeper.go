// Package keeper owns the lifecycle of trajectories: a migration loop that
// folds closed sessions' raw geodata into trajectory documents and a
// retention loop that purges documents past their TTL.
package keeper

import (
	logger "log"
	"os"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/jmoiron/sqlx"
)

// Config carries the keeper tunables.
type Config struct {
	// MigrateInitialWait delays the first migration so the recorder has
	// telemetry to close out after a fleet restart.
	MigrateInitialWait time.Duration
	MigrateSleep       time.Duration
	TTL                time.Duration
	BatchSize          int
	RetentionSleep     time.Duration
	// ErrorSleep is the pause after a failed retention sweep.
	ErrorSleep time.Duration
}

// RunMigrationLoop moves closed sessions' geodata into trajectories until the
// shutdown signal fires.
func RunMigrationLoop(log *logger.Logger, db *sqlx.DB, cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := cfg.MigrateInitialWait

	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("migration loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		sleep = cfg.MigrateSleep

		migrated, err := MigrateClosedSessions(log, db)
		if err != nil {
			log.Printf("error migrating closed sessions. error:%v\n", err)
			continue
		}
		if migrated > 0 {
			log.Printf("migrated and cleared %d sessions\n", migrated)
		}
	}
}

// MigrateClosedSessions finds sessions whose window has passed, writes one
// trajectory document per session and deletes the migrated geodata. Returns
// the number of sessions migrated. A session that fails is skipped and its
// geodata kept for the next pass.
func MigrateClosedSessions(log *logger.Logger, db *sqlx.DB) (int, error) {
	sessions, err := geodata.MigratableSessions(db, time.Now())
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	migrated := 0
	for _, session := range sessions {
		points, err := geodata.SessionPoints(db, session.ClientID, session.SessionID)
		if err != nil {
			log.Printf("unable to load points for session %d: %v", session.SessionID, err)
			continue
		}
		if len(points) == 0 {
			continue
		}

		document := geodata.TrajectoryDocument(points)
		if err := geodata.RecordTrajectory(db, session.ClientID, session.SessionID, document); err != nil {
			log.Printf("unable to record trajectory for session %d: %v", session.SessionID, err)
			continue
		}

		deleted, err := geodata.DeleteSessionPoints(db, session.ClientID, session.SessionID)
		if err != nil {
			log.Printf("unable to clear migrated geodata for session %d: %v", session.SessionID, err)
			continue
		}

		log.Printf("migrated session %d for client %s, %d points, %d rows cleared",
			session.SessionID, session.ClientID, len(document), deleted)
		migrated++
	}
	return migrated, nil
}

// RunRetentionLoop purges trajectories older than the TTL in ctid batches so
// deletes stay short and lock friendly.
func RunRetentionLoop(log *logger.Logger, db *sqlx.DB, cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := time.Duration(0)

	for {
		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("retention loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		sleep = cfg.RetentionSleep

		cutoff := time.Now().Add(-cfg.TTL)
		expired, err := geodata.CountExpiredTrajectories(db, cutoff)
		if err != nil {
			log.Printf("error counting expired trajectories. error:%v\n", err)
			sleep = cfg.ErrorSleep
			continue
		}
		if expired == 0 {
			continue
		}

		total, err := purgeExpired(db, cutoff, cfg.BatchSize)
		if err != nil {
			log.Printf("error purging expired trajectories. error:%v\n", err)
			sleep = cfg.ErrorSleep
			continue
		}
		log.Printf("trajectories retention: deleted %d rows older than %s\n", total, cfg.TTL)
	}
}

// purgeExpired deletes batches until one comes back short.
func purgeExpired(db *sqlx.DB, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		deleted, err := geodata.DeleteExpiredTrajectories(db, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}
