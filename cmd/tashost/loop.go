package main

import (
	"context"
	"time"
)

// maxTicksPerFrame bounds the catch-up work of one wall-clock frame.
const maxTicksPerFrame = 500

// ticker is the part of the host advanced once per game tick.
type ticker interface {
	Tick()
	Update()
}

// pacer converts the playback speed into a number of game ticks per
// wall-clock frame. Fractional speeds accumulate across frames.
type pacer struct {
	budget float64
}

// ticks returns how many game ticks the next wall-clock frame runs.
func (p *pacer) ticks(speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	p.budget += speed
	n := int(p.budget + 1e-9)
	p.budget -= float64(n)
	if n > maxTicksPerFrame {
		n = maxTicksPerFrame
	}
	return n
}

// runLoop drives the game ticks and the meta tick at fps until ctx is done.
// onFrame runs after the meta tick of every wall-clock frame.
func runLoop(ctx context.Context, fps int, game ticker, meta func(), speed func() float64, onFrame func()) {
	if fps <= 0 {
		fps = 60
	}
	t := time.NewTicker(time.Second / time.Duration(fps))
	defer t.Stop()

	var p pacer
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for range p.ticks(speed()) {
			game.Tick()
			game.Update()
		}
		meta()
		if onFrame != nil {
			onFrame()
		}
	}
}
