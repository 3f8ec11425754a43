package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const namespace = "creatord"

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// family is one metric name with its label set. Series are keyed by the
// joined label values.
type family struct {
	name    string
	help    string
	kind    string
	labels  []string
	counter map[string]uint64
	hist    map[string]*histogram
}

type registry struct {
	mu       sync.Mutex
	families []*family
}

var defaultRegistry = &registry{}

func (r *registry) counter(name, help string, labels ...string) *family {
	f := &family{name: namespace + "_" + name, help: help, kind: "counter", labels: labels, counter: make(map[string]uint64)}
	r.families = append(r.families, f)
	return f
}

func (r *registry) histogram(name, help string, labels ...string) *family {
	f := &family{name: namespace + "_" + name, help: help, kind: "histogram", labels: labels, hist: make(map[string]*histogram)}
	r.families = append(r.families, f)
	return f
}

func seriesKey(values []string) string {
	return strings.Join(values, "\x00")
}

func (r *registry) inc(f *family, values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.counter[seriesKey(values)]++
}

func (r *registry) observe(f *family, d time.Duration, values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seriesKey(values)
	h := f.hist[key]
	if h == nil {
		h = newHistogram()
		f.hist[key] = h
	}
	h.observe(d.Seconds())
}

func (r *registry) value(f *family, values ...string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.kind == "histogram" {
		if h := f.hist[seriesKey(values)]; h != nil {
			return h.count
		}
		return 0
	}
	return f.counter[seriesKey(values)]
}

func (r *registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var builder strings.Builder
	builder.Grow(2048)
	for _, f := range r.families {
		builder.WriteString(fmt.Sprintf("# HELP %s %s\n", f.name, f.help))
		builder.WriteString(fmt.Sprintf("# TYPE %s %s\n", f.name, f.kind))

		switch f.kind {
		case "counter":
			for _, key := range sortedKeys(f.counter) {
				builder.WriteString(fmt.Sprintf("%s{%s} %d\n", f.name, labelPairs(f.labels, key, ""), f.counter[key]))
			}
		case "histogram":
			for _, key := range sortedKeys(f.hist) {
				h := f.hist[key]
				for idx, bound := range h.buckets {
					builder.WriteString(fmt.Sprintf("%s_bucket{%s} %d\n", f.name, labelPairs(f.labels, key, formatFloat(bound)), h.counts[idx]))
				}
				builder.WriteString(fmt.Sprintf("%s_bucket{%s} %d\n", f.name, labelPairs(f.labels, key, "+Inf"), h.count))
				builder.WriteString(fmt.Sprintf("%s_sum{%s} %s\n", f.name, labelPairs(f.labels, key, ""), formatFloat(h.sum)))
				builder.WriteString(fmt.Sprintf("%s_count{%s} %d\n", f.name, labelPairs(f.labels, key, ""), h.count))
			}
		}
	}
	return builder.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func labelPairs(names []string, key, le string) string {
	values := strings.Split(key, "\x00")
	pairs := make([]string, 0, len(names)+1)
	for i, name := range names {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", name, escape(value)))
	}
	if le != "" {
		pairs = append(pairs, fmt.Sprintf("le=\"%s\"", le))
	}
	return strings.Join(pairs, ",")
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
