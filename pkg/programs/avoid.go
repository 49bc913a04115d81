package programs

import (
	"context"
	"time"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// AvoidConfig tunes obstacle avoidance.
type AvoidConfig struct {
	// CloseLimit is the front sensor reading that aborts the run.
	CloseLimit int

	// SlowMargin below CloseLimit stops the wheel on that side.
	SlowMargin int

	BaseSpeed int
	MaxSpeed  int

	// Period between control steps.
	Period time.Duration
}

// DefaultAvoidConfig returns the tuning used on the real robot.
func DefaultAvoidConfig() AvoidConfig {
	return AvoidConfig{
		CloseLimit: 4000,
		SlowMargin: 500,
		BaseSpeed:  250,
		MaxSpeed:   500,
		Period:     100 * time.Millisecond,
	}
}

// AvoidSpeeds computes wheel speeds from the seven horizontal sensors.
// tooClose is set when a front-center sensor exceeds the limit.
//
// A side whose middle sensor is in the slow zone stops; otherwise a reading
// on its outer sensor speeds it up to turn away.
func AvoidSpeeds(prox []float64, cfg AvoidConfig) (left, right int, tooClose bool) {
	if len(prox) < 5 {
		return 0, 0, false
	}
	limit := float64(cfg.CloseLimit)
	slow := float64(cfg.CloseLimit - cfg.SlowMargin)

	if prox[thymio.ProxFrontMiddleLeft] > limit || prox[thymio.ProxFront] > limit || prox[thymio.ProxFrontMiddleRight] > limit {
		return 0, 0, true
	}

	left, right = cfg.BaseSpeed, cfg.BaseSpeed
	if prox[thymio.ProxFrontMiddleLeft] > slow {
		left = 0
	} else if prox[thymio.ProxFrontLeft] > 0 {
		left = cfg.MaxSpeed
	}

	if prox[thymio.ProxFrontMiddleRight] > slow {
		right = 0
	} else if prox[thymio.ProxFrontRight] > 0 {
		right = cfg.MaxSpeed
	}
	return left, right, false
}

// AvoidObstacles drives forward, steering away from obstacles, until ctx
// ends or a front sensor is saturated (ErrTooClose).
func AvoidObstacles(cfg AvoidConfig) Program {
	return func(ctx context.Context, env Env) error {
		logger := env.logger().With("program", "avoid_obstacles")
		th := env.Thymio

		prox := NewWatch(th, thymio.VarProxHorizontal)
		if err := prox.Wait(ctx); err != nil {
			return err
		}

		for {
			values := prox.Get(thymio.VarProxHorizontal)
			logger.Debug("proximity", "prox", values)

			left, right, tooClose := AvoidSpeeds(values, cfg)
			if tooClose {
				if err := th.Motors(ctx, 0, 0); err != nil {
					return err
				}
				logger.Error("too close to an obstacle", "prox", values)
				return ErrTooClose
			}

			if err := th.Motors(ctx, left, right); err != nil {
				return err
			}
			if err := sleep(ctx, env.Manager, cfg.Period); err != nil {
				return err
			}
		}
	}
}

// sleep uses the manager's sleep when available.
func sleep(ctx context.Context, mgr thymio.Manager, d time.Duration) error {
	if mgr != nil {
		return mgr.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
