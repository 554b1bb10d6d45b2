package prometheus

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/metrics/export/internaldefs"
)

// Source supplies the numbers to export. *twofa.Engine satisfies it.
type Source interface {
	MetricsSnapshot() twofa.MetricsSnapshot
	AuditDropped() uint64
}

// healthSource is optionally implemented by a Source to publish store health
// gauges.
type healthSource interface {
	Health(ctx context.Context) twofa.HealthStatus
}

// Exporter renders engine metrics in the Prometheus text exposition format.
type Exporter struct {
	source Source
}

func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, p.Render(r.Context()))
	})
}

// Render returns the exposition text. It is empty when the engine has
// metrics disabled and nothing else is known.
func (p *Exporter) Render(ctx context.Context) string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	hs, hasHealth := p.source.(healthSource)
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 && !hasHealth {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeSample(&b, def.Name, def.Help, "counter", strconv.FormatUint(snapshot.Counters[def.ID], 10))
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&b, def, internaldefs.Cumulative(raw))
	}
	writeSample(&b, internaldefs.AuditDroppedName, "Audit events dropped because the buffer was full.", "counter", strconv.FormatUint(dropped, 10))

	if hasHealth {
		status := hs.Health(ctx)
		up := "0"
		if status.StoreAvailable {
			up = "1"
		}
		writeSample(&b, "twofa_store_up", "Whether the token store answered the last probe.", "gauge", up)
		writeSample(&b, "twofa_store_probe_seconds", "Latency of the last token store probe.", "gauge",
			strconv.FormatFloat(status.StoreLatency.Seconds(), 'g', -1, 64))
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name, help, kind, value string) {
	writeHeader(b, name, help, kind)
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(value)
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, def internaldefs.Def, cumulative [internaldefs.BucketCount]uint64) {
	writeHeader(b, def.Name, def.Help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(def.Name)
		b.WriteString(`_bucket{le="`)
		b.WriteString(le)
		b.WriteString(`"} `)
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}
	b.WriteString(def.Name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[internaldefs.BucketCount-1], 10))
	b.WriteByte('\n')
	// Samples are bucketed only; the sum is not tracked.
	b.WriteString(def.Name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}
