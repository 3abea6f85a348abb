package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"SpinCast/internal/di"
	"SpinCast/internal/usecase"
	"SpinCast/pkg/config"
	"SpinCast/pkg/queue"
	"SpinCast/pkg/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	configPath   string
	enqueueTrain bool
	confirmPurge bool
	showTrends   bool
	trendWindow  int

	rootCmd = &cobra.Command{
		Use:           "spincast",
		Short:         "Roulette outcome ingest, prediction and scoring service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the driver, HTTP API and configured feeds until interrupted",
		RunE:  runServe,
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest <number>...",
		Short: "Push outcomes through the ingest, evaluate, predict cycle",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Retrain the model now, or queue a retrain for a running service",
		RunE:  runTrain,
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete every hot store key",
		RunE:  runPurge,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print the scoring counters, or the trend analysis with --trends",
		RunE:  runStats,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
	trainCmd.Flags().BoolVar(&enqueueTrain, "enqueue", false, "queue a train_model job instead of training in-process")
	purgeCmd.Flags().BoolVar(&confirmPurge, "yes", false, "confirm deletion")
	statsCmd.Flags().BoolVar(&showTrends, "trends", false, "print hot/cold numbers, frequencies and hit rates")
	statsCmd.Flags().IntVar(&trendWindow, "window", 100, "outcomes covered by the hot/cold analysis (0 = all stored)")

	rootCmd.AddCommand(runCmd, ingestCmd, trainCmd, purgeCmd, statsCmd)
}

func initApp() (*server.App, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}
	return app.Run(cmd.Context())
}

func runIngest(cmd *cobra.Command, args []string) error {
	numbers := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("not a number: %q", a)
		}
		numbers = append(numbers, n)
	}

	app, err := initApp()
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	return app.Oneshot(cmd.Context(), func(ctx context.Context) error {
		for _, n := range numbers {
			res, err := app.Driver.Submit(ctx, n, time.Now())
			if err != nil {
				return fmt.Errorf("ingest %d: %w", n, err)
			}
			if res.Reason != "" {
				fmt.Fprintf(out, "%d: %s (%s)\n", n, res.Status, res.Reason)
				continue
			}
			fmt.Fprintf(out, "%d: %s\n", n, res.Status)
		}
		if p, ok := app.Driver.LatestPrediction(); ok {
			fmt.Fprintf(out, "next: %v via %s (confidence %.2f)\n", p.PredictedNumbers, p.ModelUsed, p.Confidence)
		}
		return nil
	})
}

func runTrain(cmd *cobra.Command, _ []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if enqueueTrain {
		pub := queue.NewRedisPublisher(app.Log, app.Redis, queue.WithKeyPrefix(app.Config.Queue.KeyPrefix))
		defer pub.Stop(ctx)
		if err := pub.PublishMessage(ctx, usecase.TrainModelJobType, usecase.TrainRequest{Reason: "cli"}); err != nil {
			return fmt.Errorf("enqueue training: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "training queued")
		return nil
	}

	meta, err := app.Trainer.Train(ctx)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "model v%d trained on %d samples, accuracy %.3f\n",
		meta.Version, meta.TrainingSamples, meta.TrainAccuracy)
	return nil
}

func runPurge(cmd *cobra.Command, _ []string) error {
	if !confirmPurge {
		return fmt.Errorf("refusing to purge without --yes")
	}
	app, err := initApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Store.ClearAll(cmd.Context()); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "hot store cleared")
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}
	defer app.Close()

	var out interface{}
	if showTrends {
		out, err = app.Store.Trends(cmd.Context(), trendWindow)
	} else {
		out, err = app.Store.Stats(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
