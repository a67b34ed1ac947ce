package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/weiihann/vcpubench/harness"
)

// GenerateChart writes an HTML page with one line per result showing the
// latency of every call.
func GenerateChart(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to chart")
	}

	longest := 0
	for _, r := range results {
		longest = max(longest, len(r.LatenciesNs))
	}
	if longest == 0 {
		return fmt.Errorf("results carry no latency samples")
	}

	iterations := make([]int, longest)
	for i := range iterations {
		iterations[i] = i + 1
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Per-call latency",
			Subtitle: fmt.Sprintf("%d runs", len(results)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ns"}),
	)
	line.SetXAxis(iterations)

	for _, r := range results {
		data := make([]opts.LineData, len(r.LatenciesNs))
		for i, ns := range r.LatenciesNs {
			data[i] = opts.LineData{Value: ns}
		}
		line.AddSeries(r.Engine+"/"+r.Entry, data)
	}

	page := components.NewPage()
	page.AddCharts(line)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}
