package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/store"
	"github.com/VanDung-dev/TableStore-Engine/transport"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Socket      string
	Concurrency int
	Rows        int
	Duration    time.Duration
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRounds   int64
	FailedRounds  int64
	BytesWritten  int64
	TotalDuration time.Duration
	AvgWrite      time.Duration
	AvgRead       time.Duration
	MaxRound      time.Duration
	RoundsPerSec  float64
}

type counters struct {
	rounds, failed, bytes atomic.Int64
	writeNanos, readNanos atomic.Int64
	maxRound              atomic.Int64
}

func main() {
	config := parseFlags()

	fmt.Println("=== TableStore Stress Test ===")
	fmt.Printf("Store: %s\n", config.Socket)
	fmt.Printf("Concurrency: %d clients\n", config.Concurrency)
	fmt.Printf("Rows per table: %d\n", config.Rows)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Println()

	result, err := runStressTest(config)
	if err != nil {
		log.Fatalf("Stress test failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Socket, "socket", store.DefaultConfig().SocketPath, "Store socket path")
	flag.IntVar(&config.Concurrency, "c", 8, "Number of concurrent clients")
	flag.IntVar(&config.Rows, "rows", 10000, "Rows per written table")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

// runStressTest runs write, read, release and delete rounds on one client
// per worker until the duration passes.
func runStressTest(config StressTestConfig) (StressTestResult, error) {
	table, err := buildTable(config.Rows)
	if err != nil {
		return StressTestResult{}, err
	}
	defer table.Release()

	var c counters
	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	startTime := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < config.Concurrency; i++ {
		g.Go(func() error {
			client, err := transport.Connect(config.Socket, transport.WithName(fmt.Sprintf("stress-%d", i)))
			if err != nil {
				return err
			}
			defer client.Disconnect()

			for ctx.Err() == nil {
				runRound(client, table, &c)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StressTestResult{}, err
	}

	duration := time.Since(startTime)
	total := c.rounds.Load()
	ok := total - c.failed.Load()

	result := StressTestResult{
		TotalRounds:   total,
		FailedRounds:  c.failed.Load(),
		BytesWritten:  c.bytes.Load(),
		TotalDuration: duration,
		MaxRound:      time.Duration(c.maxRound.Load()),
		RoundsPerSec:  float64(total) / duration.Seconds(),
	}
	if ok > 0 {
		result.AvgWrite = time.Duration(c.writeNanos.Load() / ok)
		result.AvgRead = time.Duration(c.readNanos.Load() / ok)
	}
	return result, nil
}

func runRound(client *transport.Client, table *data.Table, c *counters) {
	c.rounds.Add(1)
	id := store.RandomID()
	start := time.Now()

	n, err := client.Write(table, id)
	if err != nil {
		c.failed.Add(1)
		// Small sleep on error to avoid hammering
		time.Sleep(10 * time.Millisecond)
		return
	}
	written := time.Now()

	got, err := client.Read(id, time.Second)
	if err != nil {
		c.failed.Add(1)
		return
	}
	read := time.Now()
	got.Release()
	if err := client.Release(id); err != nil {
		c.failed.Add(1)
		return
	}
	if err := client.Delete(id); err != nil {
		c.failed.Add(1)
		return
	}

	c.bytes.Add(n)
	c.writeNanos.Add(int64(written.Sub(start)))
	c.readNanos.Add(int64(read.Sub(written)))
	lat := int64(time.Since(start))
	for {
		old := c.maxRound.Load()
		if lat <= old || c.maxRound.CompareAndSwap(old, lat) {
			break
		}
	}
}

func buildTable(rows int) (*data.Table, error) {
	ints, err := data.NewBuilder(data.Integer64Type)
	if err != nil {
		return nil, err
	}
	defer ints.Release()
	floats, err := data.NewBuilder(data.Float64Type)
	if err != nil {
		return nil, err
	}
	defer floats.Release()

	for i := 0; i < rows; i++ {
		if err := ints.AppendInt64(int64(i)); err != nil {
			return nil, err
		}
		if err := floats.AppendFloat64(float64(i) / 3); err != nil {
			return nil, err
		}
	}

	idArr, err := ints.Finish()
	if err != nil {
		return nil, err
	}
	valArr, err := floats.Finish()
	if err != nil {
		idArr.Release()
		return nil, err
	}

	idField, _ := data.NewField("id", data.Integer64Type)
	valField, _ := data.NewField("value", data.Float64Type)
	schema, err := data.NewSchema([]data.Field{idField, valField})
	if err != nil {
		idArr.Release()
		valArr.Release()
		return nil, err
	}
	return data.NewTable(schema, []*data.Array{idArr, valArr})
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Rounds:    %d\n", result.TotalRounds)
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedRounds, float64(result.FailedRounds)/float64(max(result.TotalRounds, 1))*100)
	fmt.Printf("Bytes Written:   %d\n", result.BytesWritten)
	fmt.Printf("Rounds/sec:      %.2f\n", result.RoundsPerSec)
	fmt.Printf("Avg Write:       %v\n", result.AvgWrite.Round(time.Microsecond))
	fmt.Printf("Avg Read:        %v\n", result.AvgRead.Round(time.Microsecond))
	fmt.Printf("Max Round:       %v\n", result.MaxRound.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"socket":      config.Socket,
			"concurrency": config.Concurrency,
			"rows":        config.Rows,
			"duration":    config.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_rounds":   result.TotalRounds,
			"failed":         result.FailedRounds,
			"bytes_written":  result.BytesWritten,
			"rounds_per_sec": result.RoundsPerSec,
			"avg_write_ms":   float64(result.AvgWrite.Microseconds()) / 1000,
			"avg_read_ms":    float64(result.AvgRead.Microseconds()) / 1000,
			"max_round_ms":   float64(result.MaxRound.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
