package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/evidentia-labs/custodian/internal/correlate"
	"github.com/evidentia-labs/custodian/internal/custody"
	"github.com/evidentia-labs/custodian/internal/ingest"
	"github.com/evidentia-labs/custodian/internal/tamperlog"
	"github.com/evidentia-labs/custodian/internal/timesync"
	"github.com/evidentia-labs/custodian/internal/tracker"
	"github.com/evidentia-labs/custodian/pkg/record"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	dataDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "custody",
	Short: "Telemetry custody and correlation CLI",
	Long: `custody records agent telemetry into a tamper-evident custody trail
and correlates finalized record streams across agents.

Sessions are written as JSONL files (custody chain + tamper log) that can be
re-verified and correlated at any later time.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(".")
			viper.SetConfigName("custody")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./custody.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "directory for session files")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── record ───────────────────────────────────────────────────────────────────

var (
	recordSamples   int
	recordAgents    int
	recordSeed      int64
	recordMode      string
	recordOffsetMS  float64
	recordPrecision int
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run a synthetic recording session into the custody trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, _ := zap.NewDevelopment()
		defer logger.Sync() //nolint:errcheck

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return err
		}

		aligner, err := timesync.New(timesync.Config{
			Mode:           timesync.Mode(recordMode),
			NTPOffsetMS:    recordOffsetMS,
			TSNPrecisionUS: recordPrecision,
		})
		if err != nil {
			return err
		}

		ledger, err := custody.OpenFile(filepath.Join(dataDir, "chain.jsonl"), logger)
		if err != nil {
			return err
		}
		tlog, err := tamperlog.Open(filepath.Join(dataDir, "log.jsonl"), logger)
		if err != nil {
			return err
		}

		trk := tracker.New(5.0, 10*math.Pi/180, logger)
		pipeline := ingest.NewPipeline(aligner, trk, ledger, tlog, nil, logger)
		src := ingest.NewSyntheticSource(recordAgents, recordSeed)

		summary, err := pipeline.Run(context.Background(), src, recordSamples)
		if err != nil {
			return err
		}

		if err := writeStreams(filepath.Join(dataDir, "streams.json"), pipeline.Streams()); err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	recordCmd.Flags().IntVar(&recordSamples, "samples", 200, "number of samples to record")
	recordCmd.Flags().IntVar(&recordAgents, "agents", 2, "number of synthetic agents")
	recordCmd.Flags().Int64Var(&recordSeed, "seed", 42, "synthetic source seed")
	recordCmd.Flags().StringVar(&recordMode, "time-mode", "NTP", "time discipline: NTP or TSN")
	recordCmd.Flags().Float64Var(&recordOffsetMS, "ntp-offset-ms", 0, "simulated NTP offset in milliseconds")
	recordCmd.Flags().IntVar(&recordPrecision, "tsn-precision-us", 1, "TSN microsecond grid size")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-validate a persisted custody chain and tamper log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := custody.OpenFile(filepath.Join(dataDir, "chain.jsonl"), nil)
		if err != nil {
			return err
		}
		tlog, err := tamperlog.Open(filepath.Join(dataDir, "log.jsonl"), nil)
		if err != nil {
			return err
		}

		ctx := context.Background()
		valid, err := ledger.Verify(ctx)
		if err != nil {
			return err
		}
		length, err := ledger.Len(ctx)
		if err != nil {
			return err
		}
		failing := tlog.Verify()
		if failing == nil {
			failing = []int{}
		}

		return printJSON(map[string]any{
			"chain_blocks":        length,
			"chain_valid":         valid,
			"log_entries":         tlog.Len(),
			"log_failing_indices": failing,
		})
	},
}

// ── correlate ────────────────────────────────────────────────────────────────

var (
	corrWindowMS  int64
	corrMaxXYDist float64
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Correlate a session's finalized record streams across agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		streams, err := readStreams(filepath.Join(dataDir, "streams.json"))
		if err != nil {
			return err
		}

		events, err := correlate.Correlate(streams, corrWindowMS, corrMaxXYDist)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"count":  len(events),
			"events": events,
		})
	},
}

func init() {
	correlateCmd.Flags().Int64Var(&corrWindowMS, "window-ms", 50, "correlation time window in milliseconds")
	correlateCmd.Flags().Float64Var(&corrMaxXYDist, "max-xy-dist", 2.0, "maximum planar distance in meters")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the custody CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("custody", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func printJSON(v any) error {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStreams(path string, streams map[string][]record.StandardRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	return enc.Encode(streams)
}

func readStreams(path string) (map[string][]record.StandardRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var streams map[string][]record.StandardRecord
	if err := json.NewDecoder(file).Decode(&streams); err != nil {
		return nil, fmt.Errorf("decode streams: %w", err)
	}
	return streams, nil
}
