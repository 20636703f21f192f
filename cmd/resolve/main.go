// Package main runs one action card scenario offline against in-memory
// storage and prints the narrative it produced.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/actioncards/internal/config"
	"github.com/cory-johannsen/actioncards/internal/engine"
	"github.com/cory-johannsen/actioncards/internal/game/actioncard"
	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	scenarioPath := flag.String("scenario", "", "path to scenario YAML (required)")
	asJSON := flag.Bool("json", false, "print the structured result as JSON")
	timeout := flag.Duration("timeout", 30*time.Second, "overall execution timeout")
	seed := flag.Uint64("seed", 0, "replay dice from this seed; 0 rolls with crypto/rand")
	flag.Parse()

	if *scenarioPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging, "resolve")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	sc, err := engine.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("loading scenario: %v", err)
	}

	var opts engine.Options
	if *seed != 0 {
		opts.Source = dice.NewSeededSource(*seed)
	}
	eng, err := engine.New(cfg, logger, opts)
	if err != nil {
		log.Fatalf("assembling engine: %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := eng.RunScenario(ctx, sc)
	if err != nil {
		log.Fatalf("running scenario: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalf("encoding result: %v", err)
		}
		return
	}

	for _, e := range eng.Log.Entries() {
		fmt.Fprintf(os.Stdout, "[%s] %s\n", e.Kind, e.Text)
	}
	printSummary("execution", out.Execution)
	if out.Approval != nil {
		printSummary("approval", *out.Approval)
	}
	fmt.Fprintf(os.Stdout, "done [%s]\n", time.Since(start))
}

func printSummary(label string, res actioncard.Result) {
	fmt.Fprintf(os.Stdout, "%s: state=%s success=%v", label, res.State, res.Success)
	if res.Roll != nil {
		fmt.Fprintf(os.Stdout, " roll=%d", res.Roll.Total)
	}
	if res.Reason != "" {
		fmt.Fprintf(os.Stdout, " reason=%q", res.Reason)
	}
	fmt.Fprintln(os.Stdout)
	for _, d := range res.DamageResults {
		fmt.Fprintf(os.Stdout, "  %s: %d %s (hp %d)\n", d.TargetID, d.Amount, d.Type, d.HP)
	}
	for _, e := range res.EffectResults {
		status := "applied"
		switch {
		case e.Error != "":
			status = "failed: " + e.Error
		case e.NeedsRemoteApplication:
			status = "needs approval"
		}
		fmt.Fprintf(os.Stdout, "  %s: %s %s\n", e.TargetID, e.EffectID, status)
	}
}
