package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"facilitywatch/internal/detector"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// reading is one CSV row; line is 1-based and counts the header
type reading struct {
	line      int
	timestamp string
	usage     float64
}

type result struct {
	reading
	anomaly bool
	err     error
}

type summary struct {
	total     int
	anomalies int
	errors    int
	skipped   int
}

// readReadings parses a CSV with a header naming "timestamp" and "usage"
// columns. Rows whose usage is not a finite number are skipped.
func readReadings(r io.Reader) ([]reading, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	tsCol, usageCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "timestamp":
			tsCol = i
		case "usage":
			usageCol = i
		}
	}
	if tsCol < 0 || usageCol < 0 {
		return nil, 0, fmt.Errorf("CSV header %v must name timestamp and usage columns", header)
	}

	var readings []reading
	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read CSV record on line %d: %w", line, err)
		}

		if len(record) <= tsCol || len(record) <= usageCol {
			skipped++
			continue
		}

		usage, err := strconv.ParseFloat(strings.TrimSpace(record[usageCol]), 64)
		if err != nil || math.IsNaN(usage) || math.IsInf(usage, 0) {
			skipped++
			continue
		}

		readings = append(readings, reading{
			line:      line,
			timestamp: strings.TrimSpace(record[tsCol]),
			usage:     usage,
		})
	}

	return readings, skipped, nil
}

// replay scores readings with a bounded worker pool. Results keep the input
// order.
func replay(ad *detector.AnomalyDetector, readings []reading, numWorkers int) []result {
	if numWorkers > len(readings) {
		numWorkers = len(readings)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	results := make([]result, len(readings))
	jobs := make(chan int, len(readings))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go worker(ad, readings, jobs, results, &wg)
	}

	for i := range readings {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// worker scores the readings whose indexes arrive on jobs. Each index is
// written by exactly one worker.
func worker(ad *detector.AnomalyDetector, readings []reading, jobs <-chan int, results []result, wg *sync.WaitGroup) {
	defer wg.Done()

	for i := range jobs {
		anomaly, err := ad.Detect(readings[i].timestamp, readings[i].usage)
		results[i] = result{reading: readings[i], anomaly: anomaly, err: err}
	}
}

func summarize(results []result, skipped int) summary {
	return summary{
		total:     len(results),
		anomalies: lo.CountBy(results, func(r result) bool { return r.err == nil && r.anomaly }),
		errors:    lo.CountBy(results, func(r result) bool { return r.err != nil }),
		skipped:   skipped,
	}
}

// printReport lists anomalous and failed rows followed by the totals
func printReport(w io.Writer, subsystem string, results []result, s summary) {
	flagged := lo.Filter(results, func(r result, _ int) bool { return r.err != nil || r.anomaly })

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Line", "Timestamp", "Usage", "Result"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(lo.Map(flagged, func(r result, _ int) []string {
		verdict := "anomaly"
		if r.err != nil {
			verdict = "error: " + r.err.Error()
		}
		return []string{strconv.Itoa(r.line), r.timestamp, strconv.FormatFloat(r.usage, 'g', -1, 64), verdict}
	}))
	table.Render()

	fmt.Fprintf(w, "\n%s: %d readings, %d anomalies, %d errors, %d skipped\n",
		subsystem, s.total, s.anomalies, s.errors, s.skipped)
}
