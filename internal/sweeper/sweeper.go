// Package sweeper implements IdleSweeper (spec.md §4.7): periodic,
// actor-scoped cleanup of composes whose lease has expired. The
// non-reentrant try-and-skip lock (a process-wide set of actor ids, not
// a queueing mutex) is the concurrency shape spec.md §5 calls for, kept
// as an explicit instance field per §9's guidance ("process-wide mutable
// maps -> explicit objects owned by the orchestrator instance, tests
// inject fresh instances").
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/events"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/metadata"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
)

// Sweeper owns the try-and-skip lock set; construct one per process (or
// one per test) and share it between the orchestrator and any operator
// cleanup endpoint.
type Sweeper struct {
	client    *platform.Client
	publisher *events.Publisher

	mu       sync.Mutex
	sweeping map[string]struct{}
}

func New(client *platform.Client, publisher *events.Publisher) *Sweeper {
	return &Sweeper{
		client:    client,
		publisher: publisher,
		sweeping:  make(map[string]struct{}),
	}
}

// tryAcquire returns true (and marks actorID as sweeping) only if no
// sweep for actorID is already in flight. It never blocks or queues.
func (s *Sweeper) tryAcquire(actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.sweeping[actorID]; busy {
		return false
	}
	s.sweeping[actorID] = struct{}{}
	return true
}

func (s *Sweeper) release(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sweeping, actorID)
}

// Run enumerates every project's composes, deleting (best-effort) those
// owned by actorID whose lease has expired. A second concurrent call for
// the same actorID returns immediately without doing anything.
func (s *Sweeper) Run(ctx context.Context, actorID string, requestID string) error {
	if !s.tryAcquire(actorID) {
		return nil
	}
	defer s.release(actorID)

	projects, err := s.client.ProjectAll(ctx, requestID)
	if err != nil {
		return err
	}

	now := time.Now()
	deleted := 0
	for _, project := range projects {
		composes, err := s.client.ComposeAllByProject(ctx, project.ProjectID, requestID)
		if err != nil {
			log.Printf("sweeper: list composes for project %s failed: %v", project.ProjectID, err)
			continue
		}
		for _, compose := range composes {
			m, ok := metadata.Parse(compose.Description)
			if !ok || m.ActorID != actorID {
				continue
			}
			if !expired(*m, now) {
				continue
			}
			if err := s.client.ComposeDelete(ctx, compose.ComposeID, true, requestID); err != nil {
				log.Printf("sweeper: delete compose %s failed: %v", compose.ComposeID, err)
				continue
			}
			deleted++
			if s.publisher != nil {
				s.publisher.Publish(ctx, events.SessionSwept, events.Payload{
					ActorID: actorID, ChatID: m.ChatID, ComposeID: compose.ComposeID,
				})
			}
		}
	}
	log.Printf("sweeper: actor=%s deleted=%d", actorID, deleted)
	return nil
}

// RunAll enumerates all projects once, collects distinct actor ids from
// compose metadata, and sweeps each of them.
func (s *Sweeper) RunAll(ctx context.Context, requestID string) (int, error) {
	projects, err := s.client.ProjectAll(ctx, requestID)
	if err != nil {
		return 0, err
	}

	actorIDs := map[string]struct{}{}
	for _, project := range projects {
		composes, err := s.client.ComposeAllByProject(ctx, project.ProjectID, requestID)
		if err != nil {
			log.Printf("sweeper: list composes for project %s failed: %v", project.ProjectID, err)
			continue
		}
		for _, compose := range composes {
			if m, ok := metadata.Parse(compose.Description); ok {
				actorIDs[m.ActorID] = struct{}{}
			}
		}
	}

	for actorID := range actorIDs {
		if err := s.Run(ctx, actorID, requestID); err != nil {
			log.Printf("sweeper: bulk sweep of actor %s failed: %v", actorID, err)
		}
	}
	return len(actorIDs), nil
}

func expired(m metadata.SessionMetadata, now time.Time) bool {
	expiresAtMillis := m.LastSeenAt + m.IdleTTLSec*1000
	return expiresAtMillis < now.UnixMilli()
}
