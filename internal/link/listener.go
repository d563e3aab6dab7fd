package link

import "github.com/trailhead-robotics/treadmillctl/internal/monitoring"

// StartListener begins background reading. Every complete line (LF
// stripped, trailing CR trimmed) is posted to the event loop and
// delivered to onLine there, so it never runs concurrently with a
// heartbeat tick. It fails with ErrNotConnected if the link isn't open,
// or ErrInvalidState if a listener is already running.
func (l *SerialLink) StartListener(onLine OnLine) error {
	port := l.currentPort()
	if port == nil {
		return ErrNotConnected
	}

	l.listenMu.Lock()
	if l.listening {
		l.listenMu.Unlock()
		return ErrInvalidState
	}
	l.listening = true
	stop := make(chan struct{})
	done := make(chan struct{})
	l.stopListener = stop
	l.listenerDone = done
	l.listenMu.Unlock()

	go l.listenLoop(port, onLine, stop, done)
	monitoring.Logf("link: listener started")
	return nil
}

func (l *SerialLink) listenLoop(port Port, onLine OnLine, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		line, ok, err := readLineDeadline(port, listenerPollInterval, func() { l.selfClose() })
		if err != nil {
			l.reportListenerErr(err)
			return
		}
		if !ok {
			continue // this poll slice timed out; loop back and check stop again
		}

		text := line
		select {
		case l.loop.jobs <- func() { onLine(text) }:
		case <-l.loop.quit:
		case <-stop:
			return
		}
	}
}

func (l *SerialLink) reportListenerErr(err error) {
	l.errOnce.Do(func() {
		select {
		case l.errCh <- err:
		default:
		}
	})
	monitoring.Logf("link: listener error: %v", err)
}

// StopListener cancels the background reader and waits (bounded by
// listenerPollInterval) for it to exit. It is idempotent — calling it
// when no listener is running is a no-op.
//
// It is safe to call from inside an OnLine callback: callbacks run on
// the event loop's worker goroutine, never on the reader goroutine
// itself, and the reader's exit depends only on observing the closed
// stop channel — never on the loop making further progress — so joining
// it here cannot deadlock the loop.
func (l *SerialLink) StopListener() {
	l.listenMu.Lock()
	if !l.listening {
		l.listenMu.Unlock()
		return
	}
	l.listening = false
	stop := l.stopListener
	done := l.listenerDone
	l.stopListener = nil
	l.listenerDone = nil
	l.listenMu.Unlock()

	close(stop)
	<-done
	monitoring.Logf("link: listener stopped")
}
