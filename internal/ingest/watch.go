package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/rjeczalik/notify"
)

// settlePeriod is how long the tree must stay quiet after a run before
// events are considered again.
const settlePeriod = 250 * time.Millisecond

// Watch calls run whenever the tree under root changes (once the changes
// have settled for the debounce period) and additionally on the force
// sync interval. Runs never overlap. Events raised while a run is in
// progress, such as its own renames, are discarded; the force sync picks
// up anything else changed in that window. Watch blocks until the context
// is cancelled, or run returns an error.
func Watch(ctx context.Context, root string, config Config, log logger.Logger, run func(context.Context) error) error {
	fsNotifyChannel := make(chan notify.EventInfo, 128)
	if err := notify.Watch(filepath.Join(root, "..."), fsNotifyChannel, notify.Create, notify.Write, notify.Rename, notify.Remove); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	defer notify.Stop(fsNotifyChannel)

	forceSync := time.NewTicker(config.ForceSyncDuration())
	defer forceSync.Stop()

	debounce := time.NewTimer(config.DebounceDuration())
	debounce.Stop()
	defer debounce.Stop()

	log.Emit(logger.INFO, "Watching %s for changes\n", root)
	for {
		select {
		case ev := <-fsNotifyChannel:
			log.Emit(logger.VERBOSE, "%s %s\n", ev.Event(), ev.Path())
			debounce.Reset(config.DebounceDuration())
		case <-debounce.C:
			if err := run(ctx); err != nil {
				return err
			}
			discardEvents(ctx, fsNotifyChannel, log)
			debounce.Stop()
		case <-forceSync.C:
			log.Emit(logger.DEBUG, "Performing periodic sync\n")
			if err := run(ctx); err != nil {
				return err
			}
			discardEvents(ctx, fsNotifyChannel, log)
			debounce.Stop()
		case <-ctx.Done():
			log.Emit(logger.STOP, "Stopped watching %s\n", root)
			return nil
		}
	}
}

// discardEvents drains the channel until no event has arrived for the
// settle period.
func discardEvents(ctx context.Context, events <-chan notify.EventInfo, log logger.Logger) {
	quiet := time.NewTimer(settlePeriod)
	defer quiet.Stop()

	discarded := 0
	for {
		select {
		case <-events:
			discarded++
			quiet.Reset(settlePeriod)
		case <-quiet.C:
			if discarded > 0 {
				log.Emit(logger.DEBUG, "Ignored %d events raised during the run\n", discarded)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}
