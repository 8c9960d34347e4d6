// Command report renders an hourly entries/exits chart from the counting
// database as a standalone HTML page.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/footfall.report/internal/countdb"
)

var (
	dbPath  = flag.String("db", "footfall.db", "Path to the counting database")
	outPath = flag.String("out", "footfall_report.html", "Output HTML file")
	days    = flag.Int("days", 7, "How many days back to include")
)

func main() {
	flag.Parse()

	if *days <= 0 {
		log.Fatal("days must be positive")
	}

	db, err := countdb.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	since := time.Now().AddDate(0, 0, -*days)
	buckets, err := db.HourlyCrossings(since)
	if err != nil {
		log.Fatalf("Failed to query crossings: %v", err)
	}
	if len(buckets) == 0 {
		log.Fatalf("No crossings recorded since %s", since.Format("2006-01-02"))
	}

	hours := make([]string, 0, len(buckets))
	entries := make([]opts.BarData, 0, len(buckets))
	exits := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		hours = append(hours, b.Hour)
		entries = append(entries, opts.BarData{Value: b.Entries})
		exits = append(exits, opts.BarData{Value: b.Exits})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Footfall Report",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Entries and exits per hour",
			Subtitle: fmt.Sprintf("last %d days, %d hours with traffic", *days, len(buckets)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hour"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Crossings"}),
	)
	bar.SetXAxis(hours).
		AddSeries("entries", entries).
		AddSeries("exits", exits)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	if err := bar.Render(f); err != nil {
		log.Fatalf("Failed to render chart: %v", err)
	}
	log.Printf("Wrote %s", *outPath)
}
