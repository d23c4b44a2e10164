package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jhalloran/mailsift/internal/config"
	"github.com/jhalloran/mailsift/internal/history"
	"github.com/jhalloran/mailsift/internal/mail"
	"github.com/jhalloran/mailsift/internal/rules"
	"github.com/jhalloran/mailsift/internal/runtime"
)

type suggestConfig struct {
	cfgPath        string
	minOccurrences int
	topN           int
	jsonOut        string
	apply          bool
}

func main() {
	cfg := parseSuggestFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailsift-suggest failed", "error", err)
		os.Exit(1)
	}
}

func parseSuggestFlags() suggestConfig {
	cfgPath := flag.String("config", "", "config file path (default per-user config dir)")
	minOccurrences := flag.Int("min-occurrences", 3, "minimum consistent classifications before suggesting")
	topN := flag.Int("top", 20, "number of suggestions to display")
	jsonOut := flag.String("json", "", "write JSON suggestions to path")
	apply := flag.Bool("apply", false, "add the displayed suggestions to the rule file")
	flag.Parse()

	return suggestConfig{
		cfgPath:        *cfgPath,
		minOccurrences: *minOccurrences,
		topN:           *topN,
		jsonOut:        *jsonOut,
		apply:          *apply,
	}
}

func run(cfg suggestConfig) error {
	logger := runtime.DefaultLogger()
	conf, err := config.Load(cfg.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ledger := history.New(conf.StateDir(), logger)
	entries, err := ledger.LoadEntries(0)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(entries) == 0 {
		logger.Info("no classification history yet; run mailsift first")
		return nil
	}

	suggestions := rules.Suggest(entries, cfg.minOccurrences)
	if cfg.topN > 0 && len(suggestions) > cfg.topN {
		suggestions = suggestions[:cfg.topN]
	}
	if len(suggestions) == 0 {
		logger.Info("no patterns consistent enough to suggest",
			"entries", len(entries),
			"min_occurrences", cfg.minOccurrences)
		return nil
	}

	if err := printHuman(suggestions); err != nil {
		return fmt.Errorf("print suggestions: %w", err)
	}
	if cfg.jsonOut != "" {
		if err := writeJSON(suggestions, cfg.jsonOut); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	}
	if !cfg.apply {
		return nil
	}

	engine, err := rules.Load(conf.RulesPath(), logger)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, s := range suggestions {
		if err := engine.Add(s.Kind, s.Pattern, mail.Category(s.Category)); err != nil {
			return fmt.Errorf("apply suggestion %q: %w", s.Pattern, err)
		}
	}
	logger.Info("applied suggestions", "count", len(suggestions), "path", conf.RulesPath())
	return nil
}

func printHuman(suggestions []rules.Suggestion) error {
	for _, s := range suggestions {
		_, err := fmt.Fprintf(os.Stdout, "%-8s  %-40s -> %-12s (%d occurrences, %.0f%% consistent)\n",
			s.Kind, s.Pattern, s.Category, s.Occurrences, s.Confidence*100)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(suggestions []rules.Suggestion, path string) error {
	data, err := json.MarshalIndent(suggestions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
