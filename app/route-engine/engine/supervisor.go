package engine

import (
	logger "log"
	"os"
	"sync"
	"time"

	"github.com/UrbanOSLabs/mobilitycast/business/data/geodata"
	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

// plannerBackoffCap bounds the exponential backoff after failed planning
// cycles.
const plannerBackoffCap = 60 * time.Second

// RunPlannerLoop periodically re-plans every active client until the
// shutdown signal fires. Each cycle fans out one worker per client through a
// bounded pool; a failing client never stops the others. Cycle failures back
// off exponentially and reset on the next success.
func (e *Engine) RunPlannerLoop(cfg Config, shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := cfg.InitialWait
	var backoff time.Duration

	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			e.log.Printf("planner loop exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		clients, err := geodata.ActiveClients(e.db)
		if err != nil {
			backoff = nextBackoff(backoff, plannerBackoffCap)
			e.log.Printf("planning cycle failed, backing off %v: %v", backoff, err)
			sleep = backoff
			continue
		}
		backoff = 0
		sleep = cfg.PlannerSleep

		if len(clients) == 0 {
			e.log.Printf("no active clients, planner sleeping %v", cfg.PlannerSleep)
			continue
		}

		e.log.Printf("planning cycle over %d active clients", len(clients))
		completed := e.planClients(clients, cfg)
		e.log.Printf("planning cycle complete, %d/%d clients finished within deadline, sleeping %v",
			completed, len(clients), cfg.PlannerSleep)
	}
}

// planClients runs ChooseRoute for every client through a pool of at most
// WorkerPoolSize workers and waits up to JoinTimeout for the cycle to drain.
// Returns the number of workers that finished before the deadline;
// stragglers complete in the background and only their cycle report is lost.
func (e *Engine) planClients(clients []string, cfg Config) int {
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 || poolSize > len(clients) {
		poolSize = len(clients)
	}
	pool := make(chan struct{}, poolSize)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for _, clientID := range clients {
		wg.Add(1)
		go func(clientID string) {
			defer wg.Done()
			pool <- struct{}{}
			defer func() { <-pool }()

			planOneClient(e.log, clientID, e.ChooseRoute)
			mu.Lock()
			completed++
			mu.Unlock()
		}(clientID)
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(cfg.JoinTimeout):
		e.log.Printf("planning cycle hit the %v join deadline, moving on", cfg.JoinTimeout)
	}

	mu.Lock()
	defer mu.Unlock()
	return completed
}

// planOneClient isolates a single client evaluation: panics and errors are
// contained here so they cannot take down the cycle.
func planOneClient(log *logger.Logger, clientID string, choose func(string) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("routing panicked for client %s: %v", clientID, r)
		}
	}()

	if err := choose(clientID); err != nil {
		if fault.IsMissing(err) {
			log.Printf("skipping client %s this cycle: %v", clientID, err)
			return
		}
		log.Printf("routing failed for client %s: %v", clientID, err)
	}
}

// nextBackoff doubles the previous backoff up to cap, starting at 2 seconds.
func nextBackoff(previous time.Duration, cap time.Duration) time.Duration {
	if previous <= 0 {
		return 2 * time.Second
	}
	next := previous * 2
	if next > cap {
		return cap
	}
	return next
}
