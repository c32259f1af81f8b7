package utils

import (
	"context"
	"time"

	"go.viam.com/depthcam/logging"
)

// SlowLogger starts a goroutine that warns every few seconds until the returned function is
// called or ctx is done. The first warning comes after two seconds, the next after three, then
// every five.
func SlowLogger(ctx context.Context, msg string, logger logging.Logger, keysAndValues ...interface{}) func() {
	slowTicker := time.NewTicker(2 * time.Second)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := time.Now()
	go func() {
		for {
			select {
			case <-slowTicker.C:
				elapsed := time.Since(startTime).Round(time.Second).String()
				logger.Warnw(msg, append(keysAndValues, "time_elapsed", elapsed)...)
				if firstTick {
					slowTicker.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTicker.Reset(5 * time.Second)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() { slowTicker.Stop(); cancel() }
}
