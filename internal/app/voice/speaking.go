package voice

import "time"

// speakingDetector turns analyser levels into speaking transitions.
type speakingDetector struct {
	threshold float64
	last      bool
}

// observe reports the derived flag and whether it differs from the last
// accepted value. Muted input never counts as speaking.
func (d *speakingDetector) observe(level float64, muted bool) (speaking, changed bool) {
	speaking = level > d.threshold && !muted
	if speaking == d.last {
		return speaking, false
	}
	d.last = speaking
	return speaking, true
}

// revert undoes the last transition so it is retried on the next sample.
func (d *speakingDetector) revert() {
	d.last = !d.last
}

func (c *Coordinator) speakingLoop(m *membership) {
	ticker := time.NewTicker(c.opts.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			c.sampleSpeaking(m)
		}
	}
}

// sampleSpeaking takes one level sample and writes the flag on transitions only.
func (c *Coordinator) sampleSpeaking(m *membership) {
	c.mu.Lock()
	capture, muted, current := c.capture, c.muted, c.member == m
	c.mu.Unlock()
	if !current || capture == nil || capture.Analyser() == nil {
		return
	}

	speaking, changed := m.speaking.observe(capture.Analyser().Level(), muted)
	if !changed {
		return
	}
	if err := c.deps.Participants.SetSpeaking(m.ctx, m.session, m.user, speaking); err != nil {
		m.speaking.revert()
		if m.ctx.Err() == nil {
			m.log.Warn().Bool("speaking", speaking).Err(err).Msg("persist speaking")
		}
		return
	}
	c.events.publish(Event{Type: EventSpeaking, Remote: m.user, Speaking: &speaking})
}
