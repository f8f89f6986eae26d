package export

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidarmap/internal/slam/session"
)

func lineChart(title, subtitle, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mapping session", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scan", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	return line
}

// ReportPage builds an HTML page of per-scan diagnostics: fitness and
// iterations, stage timings, and point counts. Skipped scans are left out.
func ReportPage(sessionID string, reports []session.Report) *components.Page {
	var xs []string
	var fitness, iterations []opts.LineData
	var preprocess, window, reg, srch, total []opts.LineData
	var raw, filtered, target, mapPts []opts.LineData
	ms := func(d time.Duration) opts.LineData {
		return opts.LineData{Value: d.Seconds() * 1000}
	}
	for _, r := range reports {
		if r.Skipped {
			continue
		}
		xs = append(xs, strconv.FormatUint(uint64(r.Seq), 10))
		f := r.Fitness
		if r.Bootstrap {
			f = 0
		}
		fitness = append(fitness, opts.LineData{Value: f})
		iterations = append(iterations, opts.LineData{Value: r.Iterations})
		preprocess = append(preprocess, ms(r.Timings.Preprocess))
		window = append(window, ms(r.Timings.Window))
		reg = append(reg, ms(r.Timings.Registration))
		srch = append(srch, ms(r.Timings.Search))
		total = append(total, ms(r.Timings.Total))
		raw = append(raw, opts.LineData{Value: r.RawPoints})
		filtered = append(filtered, opts.LineData{Value: r.FilteredPoints})
		target = append(target, opts.LineData{Value: r.TargetPoints})
		mapPts = append(mapPts, opts.LineData{Value: r.MapPoints})
	}
	sub := fmt.Sprintf("session=%s scans=%d", sessionID, len(xs))

	quality := lineChart("Registration", sub, "fitness / iterations")
	quality.SetXAxis(xs).
		AddSeries("fitness", fitness).
		AddSeries("iterations", iterations)

	timing := lineChart("Stage timings", sub, "ms")
	timing.SetXAxis(xs).
		AddSeries("preprocess", preprocess).
		AddSeries("window", window).
		AddSeries("registration", reg).
		AddSeries("search", srch).
		AddSeries("total", total)

	points := lineChart("Point counts", sub, "points")
	points.SetXAxis(xs).
		AddSeries("raw", raw).
		AddSeries("filtered", filtered).
		AddSeries("target", target).
		AddSeries("map", mapPts)

	page := components.NewPage()
	page.PageTitle = "Mapping session " + sessionID
	page.AddCharts(quality, timing, points)
	return page
}

// WriteHTMLReport renders the diagnostics page.
func WriteHTMLReport(w io.Writer, sessionID string, reports []session.Report) error {
	return ReportPage(sessionID, reports).Render(w)
}

// SaveHTMLReport writes the diagnostics page to name inside d.
func (d *Dir) SaveHTMLReport(name, sessionID string, reports []session.Report) (string, error) {
	return d.save(name, func(f *os.File) error { return WriteHTMLReport(f, sessionID, reports) })
}
