package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/swapbridge/internal/feeder"
	"github.com/okian/swapbridge/pkg/logger"
)

// Default configuration constants.
const (
	defaultClassifications = 5000
	defaultSubjects        = 500
	defaultUsers           = 50
	defaultGoldFraction    = 0.1
	defaultDupFraction     = 0.05
	defaultWorkers         = 2 // multiplier for runtime.NumCPU()
	defaultTimeout         = 30 * time.Second
	defaultSettle          = 2 * time.Minute
	defaultRunTimeout      = 10 * time.Minute
)

func main() {
	cfg := &feeder.Config{}
	flagSet := pflag.NewFlagSet("feed-classifications", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.BaseURL, "url", "http://localhost:5000", "base URL of the bridge")
	flagSet.StringVar(&cfg.User, "user", "caesar", "basic auth user")
	flagSet.StringVar(&cfg.Secret, "secret", os.Getenv("SWAPBRIDGE_INBOUND_SECRET"), "basic auth secret (default: $SWAPBRIDGE_INBOUND_SECRET)")
	flagSet.IntVarP(&cfg.Classifications, "classifications", "n", defaultClassifications, "number of distinct classifications")
	flagSet.IntVar(&cfg.Subjects, "subjects", defaultSubjects, "size of the subject pool")
	flagSet.IntVar(&cfg.Users, "users", defaultUsers, "size of the user pool")
	flagSet.Float64Var(&cfg.GoldFraction, "gold", defaultGoldFraction, "share of subjects with a gold label")
	flagSet.Float64Var(&cfg.DuplicateFraction, "duplicates", defaultDupFraction, "extra posts repeating earlier ids, as a share of classifications")
	flagSet.IntVarP(&cfg.Workers, "workers", "w", runtime.NumCPU()*defaultWorkers, "concurrent submitters")
	flagSet.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flagSet.DurationVar(&cfg.Settle, "settle", defaultSettle, "how long to wait for scores to cover every subject")
	flagSet.StringVarP(&cfg.OutputFile, "output", "o", "", "save generated classifications to this JSON file")
	flagSet.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every failure and every subject score")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	if cfg.Verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	if _, err := feeder.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "feed failed: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
