package media

import (
	"strconv"
	"strings"
)

// progressTracker turns ffmpeg -progress key=value lines into percentages.
type progressTracker struct {
	duration float64
	progress ProgressFunc
	last     float64
}

func (p *progressTracker) line(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || p.duration <= 0 {
		return
	}
	switch key {
	// out_time_ms is in microseconds despite its name
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		pct := float64(us) / 1e6 / p.duration * 100
		if pct > 99 {
			pct = 99
		}
		if pct > p.last {
			p.last = pct
			report(p.progress, pct)
		}
	}
}

// silenceParser collects silence_start/silence_end pairs from silencedetect
// stderr output.
type silenceParser struct {
	open     bool
	start    float64
	silences []Interval
}

func (s *silenceParser) line(line string) {
	if !strings.Contains(line, "silencedetect") {
		return
	}
	if v, ok := fieldAfter(line, "silence_start:"); ok {
		s.open = true
		s.start = v
		return
	}
	if v, ok := fieldAfter(line, "silence_end:"); ok {
		start := s.start
		if !s.open {
			start = 0
		}
		s.silences = append(s.silences, Interval{Start: start, End: v})
		s.open = false
	}
}

// finish closes a silence still open at end of stream at duration.
func (s *silenceParser) finish(duration float64) []Interval {
	if s.open && duration > s.start {
		s.silences = append(s.silences, Interval{Start: s.start, End: duration})
		s.open = false
	}
	return s.silences
}

func fieldAfter(line, marker string) (float64, bool) {
	i := strings.Index(line, marker)
	if i < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[i+len(marker):])
	if j := strings.IndexAny(rest, " |"); j >= 0 {
		rest = rest[:j]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
