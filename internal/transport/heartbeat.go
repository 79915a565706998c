package transport

import (
	"errors"
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"github.com/nhle/notifybell/internal/wire"
)

// startHeartbeat schedules a ping every HeartbeatInterval for the
// connection generation gen. The first ping goes out one interval after
// the connection opens.
func (s *Session) startHeartbeat(gen uint64) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.opts.Clock))
	if err != nil {
		return nil, fmt.Errorf("creating heartbeat scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.opts.HeartbeatInterval),
		gocron.NewTask(func() {
			s.ping(gen)
		}),
		gocron.WithName("channel-heartbeat"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("scheduling heartbeat: %w", err)
	}

	sched.Start()
	return sched, nil
}

func (s *Session) ping(gen uint64) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}

	if err := s.Send(wire.Ping()); err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.Warn().Err(err).Msg("heartbeat ping failed")
	}
}
