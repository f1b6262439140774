// Command optimize applies the deferred reCAPTCHA rewrite to a static export
// of a site, in place.
//
// Usage:
//
//	optimize -rules rules.yaml -exclude 'wp-admin/**' ./public
//	optimize -dry-run -json ./public
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/batch"
	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/config"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/logging"
	"github.com/GriffinCanCode/recaptcha-defer/internal/injector"
	"github.com/GriffinCanCode/recaptcha-defer/internal/optimizer"
)

func main() {
	include := flag.String("include", strings.Join(batch.DefaultInclude, ","), "Comma separated globs of files to rewrite")
	exclude := flag.String("exclude", "", "Comma separated globs of files or directories to leave alone")
	rules := flag.String("rules", "", "Eligibility rules file (yaml, toml or json)")
	timeout := flag.Duration("timeout", injector.DefaultOptions().Timeout, "Loader fallback timeout")
	workers := flag.Int("workers", 0, "Concurrent walkers (0 picks a default)")
	dryRun := flag.Bool("dry-run", false, "Report what would change without writing")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(logging.CLIConfig(*verbose))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, flag.Arg(0), *include, *exclude, *rules, *timeout, *workers, *dryRun, *asJSON); err != nil {
		logger.Error("Rewrite failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *logging.Logger, root, include, exclude, rulesFile string, timeout time.Duration, workers int, dryRun, asJSON bool) error {
	rules, err := config.LoadRules(rulesFile)
	if err != nil {
		return err
	}
	gate, err := eligibility.NewGate(rules, eligibility.WithLogger(logger.Component("eligibility")))
	if err != nil {
		return err
	}

	opts := injector.DefaultOptions()
	opts.Timeout = timeout
	opt, err := optimizer.New(gate, opts)
	if err != nil {
		return err
	}
	opt.WithLogger(logger.Component("optimizer"))

	rewriter, err := batch.New(opt, batch.Config{
		Root:    root,
		Include: splitList(include),
		Exclude: splitList(exclude),
		DryRun:  dryRun,
		Workers: workers,
	}, logger.Component("batch"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := rewriter.Run(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		printReport(report)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d files failed", report.Failed)
	}
	return nil
}

func printReport(report *batch.Report) {
	verb := "rewrote"
	if report.DryRun {
		verb = "would rewrite"
	}
	for _, f := range report.Files {
		switch {
		case f.Error != "":
			fmt.Printf("FAIL  %s: %s\n", f.File, f.Error)
		case f.Marked > 0 || f.Injected:
			fmt.Printf("%-5s %s (%s, %d marked, loader %t)\n", "OK", f.File, f.Reason, f.Marked, f.Injected)
		default:
			fmt.Printf("%-5s %s (%s)\n", "SKIP", f.File, f.Outcome)
		}
	}
	fmt.Printf("\n%s %d files, skipped %d, failed %d in %s\n",
		verb, report.Rewritten, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
