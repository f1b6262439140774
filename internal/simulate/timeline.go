package simulate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StepInsert is the pseudo event that inserts a script at runtime
const StepInsert = "insert"

// Step is one scripted action of a simulated visitor
type Step struct {
	At    time.Duration `json:"at"`
	Event string        `json:"event"`
	// Src is the script source for insert steps
	Src string `json:"src,omitempty"`
}

func (s Step) String() string {
	if s.Event == StepInsert {
		return fmt.Sprintf("%s=%s@%s", s.Event, s.Src, s.At)
	}
	return fmt.Sprintf("%s@%s", s.Event, s.At)
}

// ParseTimeline parses a comma separated list of event@offset entries, for
// example "click@200ms,scroll@210ms,insert=https://www.gstatic.com/x.js@1s".
// Steps are returned in time order; steps at the same offset keep their
// written order.
func ParseTimeline(s string) ([]Step, error) {
	var steps []Step
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		at := strings.LastIndexByte(raw, '@')
		if at <= 0 || at == len(raw)-1 {
			return nil, fmt.Errorf("invalid step %q: want event@offset", raw)
		}
		offset, err := time.ParseDuration(raw[at+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid step %q: %w", raw, err)
		}
		if offset < 0 {
			return nil, fmt.Errorf("invalid step %q: negative offset", raw)
		}

		step := Step{At: offset, Event: raw[:at]}
		if name, src, ok := strings.Cut(step.Event, "="); ok {
			if name != StepInsert || src == "" {
				return nil, fmt.Errorf("invalid step %q: only insert=<src> takes an argument", raw)
			}
			step.Event, step.Src = name, src
		} else if step.Event == StepInsert {
			return nil, fmt.Errorf("invalid step %q: insert needs a source", raw)
		}
		steps = append(steps, step)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].At < steps[j].At })
	return steps, nil
}
