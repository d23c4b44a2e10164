package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jhalloran/mailsift/internal/classify"
	"github.com/jhalloran/mailsift/internal/config"
	"github.com/jhalloran/mailsift/internal/history"
	"github.com/jhalloran/mailsift/internal/mover"
	"github.com/jhalloran/mailsift/internal/rate"
	"github.com/jhalloran/mailsift/internal/rescue"
	"github.com/jhalloran/mailsift/internal/rules"
	"github.com/jhalloran/mailsift/internal/runtime"
)

const exitInterrupted = 130

type rescueConfig struct {
	cfgPath      string
	limit        int
	confidence   float64
	rescueFolder string
	spamFolder   string
	maxHistory   int
	rps          int
	dryRun       bool
}

func main() {
	cfg := parseRescueFlags()
	rescued, err := run(cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(exitInterrupted)
		}
		runtime.DefaultLogger().Error("mailsift-rescue failed", "error", err)
		os.Exit(1)
	}
	// A nonzero exit signals the caller that mail moved, so cron wrappers
	// can notify the user. Dry runs never set it.
	if rescued > 0 {
		os.Exit(1)
	}
}

func parseRescueFlags() rescueConfig {
	cfgPath := flag.String("config", "", "config file path (default per-user config dir)")
	limit := flag.Int("limit", 50, "max spam messages to review per run")
	confidence := flag.Float64("confidence", 0.7, "minimum confidence to rescue (inclusive)")
	rescueFolder := flag.String("rescue-folder", "", "rescue everything into this folder instead of per-category routing")
	spamFolder := flag.String("spam-folder", "", "spam folder to audit (default from config folder map)")
	maxHistory := flag.Int("max-history", 1000, "max fingerprints retained for dedup")
	rps := flag.Int("rps", 0, "max review calls per second (0 disables pacing)")
	dryRun := flag.Bool("dry-run", false, "log only; skip rescues and records")
	flag.Parse()

	return rescueConfig{
		cfgPath:      *cfgPath,
		limit:        *limit,
		confidence:   *confidence,
		rescueFolder: *rescueFolder,
		spamFolder:   *spamFolder,
		maxHistory:   *maxHistory,
		rps:          *rps,
		dryRun:       *dryRun,
	}
}

func run(cfg rescueConfig) (int, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := runtime.DefaultLogger()
	conf, err := config.Load(cfg.cfgPath)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	spamFolder := cfg.spamFolder
	if spamFolder == "" {
		spamFolder = conf.Folders["Spam"]
	}
	if spamFolder == "" {
		return 0, errors.New("no spam folder configured; set -spam-folder or map the Spam category")
	}

	box, err := runtime.Connect(conf.IMAP, logger)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = box.Logout() }()

	engine, err := rules.Load(conf.RulesPath(), logger)
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}

	personalContext, err := conf.LoadPersonalContext()
	if err != nil {
		logger.Warn("personal context unavailable", "error", err)
	}

	var (
		limiter rate.Limiter
		bucket  *rate.TokenBucket
	)
	if cfg.rps > 0 {
		bucket = rate.NewTokenBucket(cfg.rps)
		limiter = bucket
		defer bucket.Stop()
	}

	remote := classify.NewLLMClient(conf.LLM.APIURL, conf.LLM.Model, classify.SpamReviewPrompt)
	ledger := history.New(conf.StateDir(), logger)
	svc := rescue.NewService(box, engine, remote, mover.New(box, logger), ledger, limiter, logger)

	opts := rescue.Options{
		SpamFolder:      spamFolder,
		Limit:           cfg.limit,
		RescueFolder:    cfg.rescueFolder,
		Threshold:       cfg.confidence,
		DryRun:          cfg.dryRun,
		MaxHistory:      cfg.maxHistory,
		FolderMap:       conf.Folders,
		DefaultFolder:   config.DefaultFolder,
		PersonalContext: personalContext,
	}

	sum, runErr := svc.Run(ctx, opts)
	if runErr != nil {
		return sum.Rescued, fmt.Errorf("run rescue: %w", runErr)
	}
	return sum.Rescued, nil
}
