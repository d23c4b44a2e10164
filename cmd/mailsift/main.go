package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jhalloran/mailsift/internal/classify"
	"github.com/jhalloran/mailsift/internal/config"
	"github.com/jhalloran/mailsift/internal/history"
	"github.com/jhalloran/mailsift/internal/mail"
	"github.com/jhalloran/mailsift/internal/mover"
	"github.com/jhalloran/mailsift/internal/rate"
	"github.com/jhalloran/mailsift/internal/rules"
	"github.com/jhalloran/mailsift/internal/runtime"
	"github.com/jhalloran/mailsift/internal/sorter"
)

const exitInterrupted = 130

type sortConfig struct {
	cfgPath      string
	limit        int
	maxHistory   int
	rps          int
	dryRun       bool
	reprocess    bool
	noAuto       bool
	clearHistory bool
	listFolders  bool
}

func main() {
	cfg := parseSortFlags()
	if err := run(cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(exitInterrupted)
		}
		runtime.DefaultLogger().Error("mailsift failed", "error", err)
		os.Exit(1)
	}
}

func parseSortFlags() sortConfig {
	cfgPath := flag.String("config", "", "config file path (default per-user config dir)")
	limit := flag.Int("limit", 10, "max messages to process per run")
	maxHistory := flag.Int("max-history", 1000, "max fingerprints retained for dedup")
	rps := flag.Int("rps", 0, "max classification calls per second (0 disables pacing)")
	dryRun := flag.Bool("dry-run", false, "classify and log only; skip moves")
	reprocess := flag.Bool("reprocess", false, "ignore history and reclassify everything")
	noAuto := flag.Bool("no-auto", false, "skip the rule engine; always ask the model")
	clearHistory := flag.Bool("clear-history", false, "empty the processed-message history and exit")
	listFolders := flag.Bool("list-folders", false, "list server folders and exit")
	flag.Parse()

	return sortConfig{
		cfgPath:      *cfgPath,
		limit:        *limit,
		maxHistory:   *maxHistory,
		rps:          *rps,
		dryRun:       *dryRun,
		reprocess:    *reprocess,
		noAuto:       *noAuto,
		clearHistory: *clearHistory,
		listFolders:  *listFolders,
	}
}

func run(cfg sortConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := runtime.DefaultLogger()
	conf, err := config.Load(cfg.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ledger := history.New(conf.StateDir(), logger)
	if cfg.clearHistory {
		if err := ledger.Clear(); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		logger.Info("history cleared")
		return nil
	}

	box, err := runtime.Connect(conf.IMAP, logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = box.Logout() }()

	if cfg.listFolders {
		return printFolders(box)
	}

	var matcher classify.RuleMatcher
	if !cfg.noAuto {
		engine, err := rules.Load(conf.RulesPath(), logger)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		matcher = engine
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

	remote := classify.NewLLMClient(conf.LLM.APIURL, conf.LLM.Model, conf.LLM.SystemPrompt)
	classifier := classify.New(matcher, remote, logger)
	svc := sorter.NewService(box, classifier, mover.New(box, logger), ledger, limiter, logger)

	folders, skip, err := resolveFolders(conf, box)
	if err != nil {
		return err
	}

	spec := sorter.Spec{
		Folders: folders,
		Limit:   cfg.limit,
		Mode: mail.FetchMode{
			Criteria:  conf.Advanced.SearchMethod,
			SinceDays: conf.Advanced.DaysToSearch,
		},
		SkipFolders:     skip,
		DryRun:          cfg.dryRun,
		Reprocess:       cfg.reprocess,
		MaxHistory:      cfg.maxHistory,
		FolderMap:       conf.Folders,
		DefaultFolder:   config.DefaultFolder,
		PersonalContext: personalContext,
	}

	if _, runErr := svc.Run(ctx, spec); runErr != nil {
		return fmt.Errorf("run sort: %w", runErr)
	}
	return nil
}

// specialFolders are never pulled from in all-folders mode.
var specialFolders = []string{"Trash", "Sent", "Drafts", "Spam", "Junk"}

// resolveFolders returns the folders to pull from. In all-folders mode the
// category destinations and the usual special folders are excluded so
// already-sorted mail is not pulled back out of its target folder.
func resolveFolders(conf config.Config, box mail.Mailbox) ([]string, []string, error) {
	if !conf.Advanced.ProcessAllFolders {
		return conf.FolderList(), nil, nil
	}
	folders, err := box.Folders()
	if err != nil {
		return nil, nil, fmt.Errorf("list folders: %w", err)
	}
	skip := make([]string, 0, len(conf.Folders)+len(specialFolders))
	for _, target := range conf.Folders {
		skip = append(skip, target)
	}
	skip = append(skip, specialFolders...)
	return folders, skip, nil
}

func printFolders(box mail.Mailbox) error {
	folders, err := box.Folders()
	if err != nil {
		return fmt.Errorf("list folders: %w", err)
	}
	if _, err := os.Stdout.WriteString(strings.Join(folders, "\n") + "\n"); err != nil {
		return fmt.Errorf("write folder list: %w", err)
	}
	return nil
}
