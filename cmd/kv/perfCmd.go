package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvpipe/kvpipe/cmd/util"
	"github.com/kvpipe/kvpipe/ipc/wire"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the cache engine",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfRunID      = ""
	perfNumThreads = 10
	perfKeySpread  = 100
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	KeyValueCommands.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	KeyValueCommands.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	// Unique prefix per run, so repeated runs against a persistent
	// engine never collide
	perfRunID = uuid.NewString()[:8]

	return nil
}

// perfResult couples the benchmark outcome with the latency distribution
type perfResult struct {
	bench testing.BenchmarkResult
	timer metrics.Timer
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for the cache engine")

	// Print configuration
	cfg := util.GetClientConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Run ID: %s\n", perfRunID)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]perfResult)

	// measure wraps one operation for both the benchmark clock and the
	// latency histogram
	measure := func(timer metrics.Timer, op func() error, test string) {
		start := time.Now()
		if err := op(); err != nil {
			log.Printf("(%s) - operation failed: %v\n", test, err)
		}
		timer.UpdateSince(start)
	}

	insertTimer := metrics.NewTimer()
	insertResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("insert") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("insert")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := cacheClient.Remove(k); err != nil {
					log.Printf("(insert) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				measure(insertTimer, func() error {
					_, err := cacheClient.Insert(key, []byte("test"), 0)
					return err
				}, "insert")
				counter++
			}
		})
	})

	results["insert"] = perfResult{insertResult, insertTimer}
	printResult("insert", results["insert"])

	insertMaxTimer := metrics.NewTimer()
	insertMaxResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("insert-max") {
			return
		}

		// the largest value a frame can carry
		maxValue := make([]byte, wire.MaxValueLen)

		// prepare keys
		getKey, iter := getKeys("insert-max")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := cacheClient.Remove(k); err != nil {
					log.Printf("(insert-max) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				measure(insertMaxTimer, func() error {
					_, err := cacheClient.Insert(key, maxValue, 0)
					return err
				}, "insert-max")
				counter++
			}
		})
	})

	results["insert-max"] = perfResult{insertMaxResult, insertMaxTimer}
	printResult("insert-max", results["insert-max"])

	getTimer := metrics.NewTimer()
	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("get")

		// set keys
		iter(func(k string) {
			if _, err := cacheClient.Insert(k, []byte("test"), 0); err != nil {
				log.Printf("(get) - error inserting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := cacheClient.Remove(k); err != nil {
					log.Printf("(get) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				measure(getTimer, func() error {
					_, _, err := cacheClient.Get(key)
					return err
				}, "get")
				counter++
			}
		})
	})

	results["get"] = perfResult{getResult, getTimer}
	printResult("get", results["get"])

	getMissTimer := metrics.NewTimer()
	getMissResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get-miss") {
			return
		}

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := fmt.Sprintf("%s-%s-miss-%d", perfKeyPrefix, perfRunID, counter%perfKeySpread)
				measure(getMissTimer, func() error {
					_, _, err := cacheClient.Get(key)
					return err
				}, "get-miss")
				counter++
			}
		})
	})

	results["get-miss"] = perfResult{getMissResult, getMissTimer}
	printResult("get-miss", results["get-miss"])

	removeTimer := metrics.NewTimer()
	removeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("remove") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("remove")

		// set keys
		iter(func(k string) {
			if _, err := cacheClient.Insert(k, []byte("test"), 0); err != nil {
				log.Printf("(remove) - error inserting key: %v\n", err)
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				measure(removeTimer, func() error {
					return cacheClient.Remove(key)
				}, "remove")
				counter++
			}
		})
	})

	results["remove"] = perfResult{removeResult, removeTimer}
	printResult("remove", results["remove"])

	mixedTimer := metrics.NewTimer()
	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("mixed")

		// set keys
		iter(func(k string) {
			if _, err := cacheClient.Insert(k, []byte("test"), 0); err != nil {
				log.Printf("(mixed) - error inserting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := cacheClient.Remove(k); err != nil {
					log.Printf("(mixed) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				measure(mixedTimer, func() error {
					switch counter % 3 {
					case 0:
						_, err := cacheClient.Insert(key, []byte("test"), 0)
						return err
					case 1:
						_, _, err := cacheClient.Get(key)
						return err
					default:
						return cacheClient.Remove(key)
					}
				}, "mixed")
				counter++
			}
		})
	})

	results["mixed"] = perfResult{mixedResult, mixedTimer}
	printResult("mixed", results["mixed"])

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg.Command); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%s-%d", perfKeyPrefix, perfRunID, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := result.timer.Percentiles([]float64{0.5, 0.95, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p95=%s p99=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, engineCommand string) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"P50", "P95", "P99", "Skipped",
		"EngineCommand", "Threads", "KeysCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.bench.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		ps := result.timer.Percentiles([]float64{0.5, 0.95, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			time.Duration(ps[0]).String(),
			time.Duration(ps[1]).String(),
			time.Duration(ps[2]).String(),
			skipped,
			engineCommand,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
