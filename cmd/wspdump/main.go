// wspdump prints the header, tier table and stored samples of a single
// whisper archive. Debug aid for checking what a conversion run would read.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nicktill/whisperflux/pkg/merge"
	"github.com/nicktill/whisperflux/pkg/whisper"
)

func main() {
	var (
		file   = flag.String("file", "", "path to a value.wsp archive (required)")
		from   = flag.Int64("from", 0, "window start, unix seconds (0 = full retention)")
		until  = flag.Int64("until", 0, "window end, unix seconds (0 = now)")
		merged = flag.Bool("merged", false, "merge tiers into one series instead of listing each tier")
		limit  = flag.Int("limit", 0, "print at most n samples per listing (0 = all)")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: wspdump -file <value.wsp> [-from ts] [-until ts] [-merged] [-limit n]")
		os.Exit(2)
	}

	archive, err := whisper.Open(*file)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer archive.Close()

	hdr := archive.Header()
	fmt.Printf("archive:       %s\n", archive.Path())
	fmt.Printf("aggregation:   %s\n", hdr.AggregationName())
	fmt.Printf("max retention: %s\n", time.Duration(hdr.MaxRetention)*time.Second)
	fmt.Printf("xfiles factor: %.2f\n", hdr.XFilesFactor)

	tiers := archive.Tiers()
	fmt.Printf("tiers:         %d\n", len(tiers))
	for i, t := range tiers {
		fmt.Printf("  tier %d: %s (covers %s, arena at byte %d)\n",
			i, t, time.Duration(t.Retention())*time.Second, t.Offset)
	}

	now := time.Now().Unix()
	windowFrom := *from
	if windowFrom == 0 {
		windowFrom = now - int64(hdr.MaxRetention)
	}
	windowUntil := *until
	if windowUntil == 0 {
		windowUntil = now
	}

	read, err := archive.ReadWindow(context.Background(), windowFrom, windowUntil)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if *merged {
		samples, dropped := merge.Merge(read)
		fmt.Printf("\nmerged series: %d samples (%d gap fillers dropped)\n", len(samples), dropped)
		printSamples(samples, *limit)
		return
	}

	for _, tr := range read {
		fmt.Printf("\ntier %s: %d samples\n", tr.Tier, len(tr.Samples))
		printSamples(tr.Samples, *limit)
	}
}

func printSamples(samples []whisper.Sample, limit int) {
	n := len(samples)
	if limit > 0 && limit < n {
		n = limit
	}
	for _, s := range samples[:n] {
		fmt.Printf("  %s  %v\n", time.Unix(s.Timestamp, 0).UTC().Format(time.RFC3339), s.Value)
	}
	if n < len(samples) {
		fmt.Printf("  ... %d more\n", len(samples)-n)
	}
}
