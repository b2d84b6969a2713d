// Package report renders per-stream timelines of tracked, missing and new
// object counts as standalone HTML charts.
package report

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Point is one frame sample on a timeline.
type Point struct {
	Frame   int64 `json:"frame"`
	Tracked int   `json:"tracked"`
	Missing int   `json:"missing"`
	New     int   `json:"new"`
}

// Timeline is a bounded, concurrency-safe record of recent points.
// When full, the oldest point is dropped.
type Timeline struct {
	mu       sync.Mutex
	points   []Point
	capacity int
}

// NewTimeline returns a timeline keeping at most capacity points.
// capacity < 1 keeps every point.
func NewTimeline(capacity int) *Timeline {
	return &Timeline{capacity: capacity}
}

// Add appends a point.
func (t *Timeline) Add(p Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = append(t.points, p)
	if t.capacity > 0 && len(t.points) > t.capacity {
		t.points = t.points[len(t.points)-t.capacity:]
	}
}

// Points returns a copy of the recorded points, oldest first.
func (t *Timeline) Points() []Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Reset drops every point.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = nil
}

// Series is a named timeline, typically one per stream.
type Series struct {
	Name   string
	Points []Point
}

// TimelineChart builds a line chart with one line per count.
func TimelineChart(s Series) *charts.Line {
	x := make([]string, len(s.Points))
	tracked := make([]opts.LineData, len(s.Points))
	missing := make([]opts.LineData, len(s.Points))
	fresh := make([]opts.LineData, len(s.Points))
	for i, p := range s.Points {
		x[i] = strconv.FormatInt(p.Frame, 10)
		tracked[i] = opts.LineData{Value: p.Tracked}
		missing[i] = opts.LineData{Value: p.Missing}
		fresh[i] = opts.LineData{Value: p.New}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scene Timeline", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Name, Subtitle: fmt.Sprintf("frames=%d", len(s.Points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "objects", NameLocation: "middle", NameGap: 30}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(x).
		AddSeries("tracked", tracked, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#26828e"})).
		AddSeries("missing", missing, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"})).
		AddSeries("new", fresh, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"}))
	return line
}

// Render writes an HTML page with one timeline chart per series.
func Render(w io.Writer, series ...Series) error {
	page := components.NewPage()
	page.PageTitle = "Scene Timeline"
	for _, s := range series {
		page.AddCharts(TimelineChart(s))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}
	return nil
}
