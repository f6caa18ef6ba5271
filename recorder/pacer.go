package recorder

import "time"

// Clock is the time source the pacer measures and sleeps with.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Pacer drives the fixed-rate loop. A cycle that overruns its period is not
// compensated for later: drift is accepted, frames are never dropped or
// duplicated to catch up.
type Pacer struct {
	clock    Clock
	overruns int
}

func NewPacer(clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Pacer{clock: clock}
}

// FramePeriod returns the target duration of one cycle for fps.
func FramePeriod(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}

func (p *Pacer) BeginCycle() time.Time {
	return p.clock.Now()
}

// EndCycle sleeps for whatever is left of period since start.
func (p *Pacer) EndCycle(start time.Time, period time.Duration) {
	elapsed := p.clock.Now().Sub(start)
	if elapsed >= period {
		if elapsed > period {
			p.overruns++
		}
		return
	}
	p.clock.Sleep(period - elapsed)
}

func (p *Pacer) ShouldTerminate(sessionStart time.Time, duration time.Duration) bool {
	return p.clock.Now().Sub(sessionStart) >= duration
}

// Elapsed returns the wall time since start.
func (p *Pacer) Elapsed(start time.Time) time.Duration {
	return p.clock.Now().Sub(start)
}

// Overruns is the number of cycles that took longer than their period.
func (p *Pacer) Overruns() int {
	return p.overruns
}
