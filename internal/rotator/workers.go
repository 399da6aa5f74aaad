package rotator

import (
	"context"
	"fmt"
	"time"

	"github.com/sandfly-daq/sandfly/internal/recorder"
)

// onDeckLoop maintains the invariant: if on_deck is nil and the rotator
// is writing, prepare the next file ahead of time. It also handles the
// asynchronous half of a completed switch: finalizing the new to_finish
// file and preparing a fresh on_deck.
func (r *Rotator) onDeckLoop(ctx context.Context) {
	ticker := time.NewTicker(onDeckPollTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.onDeckSignal:
			r.serviceOnDeck()
		case <-ticker.C:
			r.serviceOnDeck()
		}
	}
}

func (r *Rotator) serviceOnDeck() {
	r.fileMu.Lock()
	toFinish := r.toFinish
	r.toFinish = nil
	needOnDeck := r.onDeck == nil && r.stage == StageWriting
	cur := r.current
	r.fileMu.Unlock()

	if toFinish != nil {
		if err := r.container.Finalize(toFinish); err != nil {
			r.log.WithError(err).Warn("async finalize of to-finish file failed")
		}
	}

	if !needOnDeck || cur == nil {
		return
	}
	next, err := r.makeContinuation(cur)
	if err != nil {
		r.log.WithError(err).Warn("failed to prepare on-deck file")
		return
	}
	r.fileMu.Lock()
	lost := r.onDeck != nil
	if !lost {
		r.onDeck = next
	}
	r.fileMu.Unlock()
	if lost {
		// Lost the race to the switch worker; the file we just built is
		// unused — finalize it immediately rather than leaking it.
		_ = r.container.Finalize(next)
	}
}

// makeContinuation allocates the next counter value, builds the
// continuation filename base_<counter>ext, and asks the container to
// open it as a copy of src's header/shapes, writing its own header
// before returning (spec §4.2: "writes its own header before any
// records").
func (r *Rotator) makeContinuation(src recorder.File) (recorder.File, error) {
	r.fileMu.Lock()
	r.counter++
	name := fmt.Sprintf("%s_%d%s", r.base, r.counter, r.ext)
	r.fileMu.Unlock()

	next, err := r.container.Continuation(src, name)
	if err != nil {
		return nil, fmt.Errorf("rotator: continuation %s: %w", name, err)
	}
	if err := next.WriteHeader(); err != nil {
		return nil, fmt.Errorf("rotator: write header %s: %w", name, err)
	}
	return next, nil
}

// switchLoop performs the synchronous half of a rotation once armed by
// recordContribution: finalize any pending to-finish file, ensure
// on-deck exists, rotate current -> to_finish and on_deck -> current,
// reset the estimate, and reopen the gate for writers.
func (r *Rotator) switchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.switchSignal:
			r.performSwitch()
		}
	}
}

// performSwitch implements the five-step rotation protocol of spec
// §4.2.3. Building a missing on-deck file can itself open/write a file,
// so that step runs with fileMu released; every other step runs under
// fileMu, matching "the switch worker, holding the file mutex, ...".
func (r *Rotator) performSwitch() {
	r.fileMu.Lock()
	if r.toFinish != nil {
		toFinish := r.toFinish
		r.toFinish = nil
		r.fileMu.Unlock()
		if err := r.container.Finalize(toFinish); err != nil {
			r.log.WithError(err).Warn("synchronous finalize of to-finish file failed")
		}
		r.fileMu.Lock()
	}

	if r.onDeck == nil {
		cur := r.current
		r.fileMu.Unlock()
		next, err := r.makeContinuation(cur)
		if err != nil {
			r.log.WithError(err).Error("failed to synchronously prepare on-deck file during switch")
			r.cancel(fmt.Errorf("rotator: %w", err))
			return
		}
		r.fileMu.Lock()
		if r.onDeck == nil {
			r.onDeck = next
		} else {
			// serviceOnDeck won the race and installed its own on-deck
			// file while fileMu was released; finalize ours rather than
			// leaking it, the same way serviceOnDeck handles losing the
			// race the other way.
			r.fileMu.Unlock()
			if err := r.container.Finalize(next); err != nil {
				r.log.WithError(err).Warn("finalize of redundant on-deck file failed")
			}
			r.fileMu.Lock()
		}
	}

	r.toFinish = r.current
	r.current = r.onDeck
	r.onDeck = nil
	r.sizeEstimateMB = 0
	r.doSwitch.UnSet()
	r.okToWrite.Set()
	r.fileMu.Unlock()

	select {
	case r.onDeckSignal <- struct{}{}:
	default:
	}
	r.log.Info("rotated to new current file")
}
