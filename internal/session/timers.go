package session

import "time"

// armTimer (re)arms the named timer to fire after d, canceling whatever
// was previously armed under that id. The timer's own goroutine only
// ever sends a loopEvent; the loop decides, on receipt, whether this
// firing is still meaningful (the id-generation pattern below handles
// "was this superseded" without comparing wall-clock time anywhere but
// the loop itself).
func (s *Session) armTimer(id timerID, d time.Duration) {
	s.cancelTimer(id)

	stop := make(chan struct{})
	s.timerStop[id] = stop

	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			s.send(loopEvent{kind: evTimer, timer: id})
		case <-stop:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) cancelTimer(id timerID) {
	if stop, ok := s.timerStop[id]; ok {
		close(stop)
		delete(s.timerStop, id)
	}
}

func (s *Session) cancelAllTimers() {
	for id := range s.timerStop {
		s.cancelTimer(id)
	}
}

// nowMs returns milliseconds since the session's monotonic start, the
// only clock the echo-suppression oracle and debounce math ever see.
func (s *Session) nowMs() int64 {
	return time.Since(s.startedMono).Milliseconds()
}
