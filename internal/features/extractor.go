// Package features converts raw subject history into fixed-length
// numeric feature vectors per behavioral axis.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-analytics/harrier/internal/domain"
)

const daysPerMonth = 30.44

// History is a subject's event history as of a reference timestamp.
// Events after the reference are excluded, which supports both "as of
// now" assignment and "as of snapshot date" backfill.
type History struct {
	Events []*domain.Event
	AsOf   time.Time

	first time.Time
	last  time.Time
	total float64
}

// NewHistory filters and orders events up to asOf.
func NewHistory(events []*domain.Event, asOf time.Time) *History {
	h := &History{AsOf: asOf}
	for _, ev := range events {
		if !ev.Timestamp.After(asOf) {
			h.Events = append(h.Events, ev)
		}
	}
	sort.Slice(h.Events, func(i, j int) bool {
		return h.Events[i].Timestamp.Before(h.Events[j].Timestamp)
	})
	if len(h.Events) > 0 {
		h.first = h.Events[0].Timestamp
		h.last = h.Events[len(h.Events)-1].Timestamp
		for _, ev := range h.Events {
			h.total += ev.Amount
		}
	}
	return h
}

// Count returns the number of events in scope.
func (h *History) Count() int { return len(h.Events) }

// CumulativeValue returns total event value in scope.
func (h *History) CumulativeValue() float64 { return h.total }

// TenureDays returns days between the first event and the reference.
func (h *History) TenureDays() float64 {
	if len(h.Events) == 0 {
		return 0
	}
	return h.AsOf.Sub(h.first).Hours() / 24
}

// Rule computes one feature from a history. Rules are pure and must
// tolerate any history, including empty ones.
type Rule func(h *History) float64

// rules is the extraction rule registry. Axis configs reference these
// by identifier and are validated against the registry at load time.
var rules = map[string]Rule{
	"event_count": func(h *History) float64 {
		return float64(h.Count())
	},
	"total_value": func(h *History) float64 {
		return h.total
	},
	"tenure_days": func(h *History) float64 {
		return h.TenureDays()
	},
	"orders_per_month": func(h *History) float64 {
		if h.Count() == 0 {
			return 0
		}
		months := math.Max(h.TenureDays(), 1) / daysPerMonth
		return float64(h.Count()) / months
	},
	"avg_gap_days": func(h *History) float64 {
		if h.Count() < 2 {
			return 0
		}
		span := h.last.Sub(h.first).Hours() / 24
		return span / float64(h.Count()-1)
	},
	"recency_days": func(h *History) float64 {
		if h.Count() == 0 {
			return 0
		}
		return h.AsOf.Sub(h.last).Hours() / 24
	},
	"avg_order_value": func(h *History) float64 {
		if h.Count() == 0 {
			return 0
		}
		return h.total / float64(h.Count())
	},
	"max_order_value": func(h *History) float64 {
		max := 0.0
		for _, ev := range h.Events {
			if ev.Amount > max {
				max = ev.Amount
			}
		}
		return max
	},
	"value_stddev": func(h *History) float64 {
		n := h.Count()
		if n < 2 {
			return 0
		}
		mean := h.total / float64(n)
		var ss float64
		for _, ev := range h.Events {
			d := ev.Amount - mean
			ss += d * d
		}
		return math.Sqrt(ss / float64(n))
	},
	"category_entropy": func(h *History) float64 {
		return distributionEntropy(h, func(ev *domain.Event) string { return ev.Category })
	},
	"channel_diversity": func(h *History) float64 {
		seen := make(map[string]bool)
		for _, ev := range h.Events {
			if ev.Channel != "" {
				seen[ev.Channel] = true
			}
		}
		return float64(len(seen))
	},
	"weekend_ratio": func(h *History) float64 {
		if h.Count() == 0 {
			return 0
		}
		weekend := 0
		for _, ev := range h.Events {
			wd := ev.Timestamp.Weekday()
			if wd == time.Saturday || wd == time.Sunday {
				weekend++
			}
		}
		return float64(weekend) / float64(h.Count())
	},
	"night_ratio": func(h *History) float64 {
		if h.Count() == 0 {
			return 0
		}
		night := 0
		for _, ev := range h.Events {
			hr := ev.Timestamp.Hour()
			if hr >= 22 || hr < 6 {
				night++
			}
		}
		return float64(night) / float64(h.Count())
	},
}

// distributionEntropy computes Shannon entropy (nats) over the value
// distribution of one categorical event field.
func distributionEntropy(h *History, key func(*domain.Event) string) float64 {
	if h.Count() == 0 {
		return 0
	}
	counts := make(map[string]int)
	total := 0
	for _, ev := range h.Events {
		k := key(ev)
		if k == "" {
			continue
		}
		counts[k]++
		total++
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log(p)
	}
	return entropy
}

// RuleExists reports whether an extraction rule identifier is
// registered.
func RuleExists(id string) bool {
	_, ok := rules[id]
	return ok
}

// Extractor produces per-axis feature vectors from subject history.
// Pure: a function of history + reference date only.
type Extractor struct {
	axes []domain.AxisConfig
}

// NewExtractor validates axis configs against the rule registry.
func NewExtractor(axes []domain.AxisConfig) (*Extractor, error) {
	for i := range axes {
		if err := axes[i].Validate(); err != nil {
			return nil, err
		}
		for _, f := range axes[i].Features {
			if !RuleExists(f.Rule) {
				return nil, fmt.Errorf("%w: axis %s: unknown extraction rule %q",
					domain.ErrInvalidConfig, axes[i].Name, f.Rule)
			}
		}
	}
	return &Extractor{axes: axes}, nil
}

// Axes returns the configured axis definitions.
func (e *Extractor) Axes() []domain.AxisConfig {
	return e.axes
}

// Axis returns one axis config by name.
func (e *Extractor) Axis(name string) (*domain.AxisConfig, bool) {
	for i := range e.axes {
		if e.axes[i].Name == name {
			return &e.axes[i], true
		}
	}
	return nil, false
}

// Vector computes the feature vector for one axis. Empty history yields
// the axis default vector, never an error.
func (e *Extractor) Vector(axisName string, h *History) ([]float64, error) {
	axis, ok := e.Axis(axisName)
	if !ok {
		return nil, fmt.Errorf("unknown axis: %s", axisName)
	}
	if h.Count() == 0 {
		return axis.Defaults(), nil
	}
	out := make([]float64, len(axis.Features))
	for i, f := range axis.Features {
		out[i] = rules[f.Rule](h)
	}
	return out, nil
}

// Vectors computes feature vectors for every configured axis.
func (e *Extractor) Vectors(h *History) map[string][]float64 {
	out := make(map[string][]float64, len(e.axes))
	for i := range e.axes {
		v, _ := e.Vector(e.axes[i].Name, h)
		out[e.axes[i].Name] = v
	}
	return out
}
