// Command simulate replays a visitor's first seconds on a saved page and
// prints when the reCAPTCHA widget would be loaded.
//
// Usage:
//
//	simulate -events click@200ms,scroll@210ms page.html
//	simulate -mode loader -events 'insert=https://www.gstatic.com/recaptcha/x.js@300ms' page.html
//	simulate -realtime -timeout 2s -events click@500ms page.html
//	curl -s https://example.com/contact/ | simulate -path /contact/ -
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/config"
	"github.com/GriffinCanCode/recaptcha-defer/internal/infrastructure/logging"
	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/utils"
	"github.com/GriffinCanCode/recaptcha-defer/internal/simulate"
)

type options struct {
	events  string
	mode    string
	path    string
	rules   string
	base    string
	timeout time.Duration
	until   time.Duration
	widget  bool
	force   bool
	asJSON  bool
	real    bool
}

func main() {
	var o options
	flag.StringVar(&o.events, "events", "", "Timeline, e.g. click@200ms,insert=<src>@1s")
	flag.StringVar(&o.mode, "mode", string(simulate.ModeEngine), "engine (Go engine) or loader (browser loader in the sandbox)")
	flag.StringVar(&o.path, "path", "/", "Path the page is served at, for the eligibility gate")
	flag.StringVar(&o.rules, "rules", "", "Eligibility rules file (yaml, toml or json)")
	flag.StringVar(&o.base, "base", "", "Base URL relative script sources resolve against")
	flag.DurationVar(&o.timeout, "timeout", 0, "Loader fallback timeout (default 5s)")
	flag.DurationVar(&o.until, "until", 0, "Length of the visit (default covers the timeline and the timeout)")
	flag.BoolVar(&o.widget, "widget", true, "Install a stand-in widget API")
	flag.BoolVar(&o.force, "force", false, "Treat the page as eligible regardless of the rules")
	flag.BoolVar(&o.asJSON, "json", false, "Print the result as JSON")
	flag.BoolVar(&o.real, "realtime", false, "Replay on the wall clock (engine mode only)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <page.html|->\n", os.Args[0])
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

	if err := run(logger, flag.Arg(0), o); err != nil {
		logger.Error("Simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *logging.Logger, file string, o options) error {
	page, err := readPage(file)
	if err != nil {
		return err
	}

	mode, err := simulate.ParseMode(o.mode)
	if err != nil {
		return err
	}
	steps, err := simulate.ParseTimeline(o.events)
	if err != nil {
		return err
	}

	eligible := true
	decision := eligibility.Decision{Load: true, Reason: "forced"}
	if !o.force {
		rules, err := config.LoadRules(o.rules)
		if err != nil {
			return err
		}
		gate, err := eligibility.NewGate(rules, eligibility.WithLogger(logger.Component("eligibility")))
		if err != nil {
			return err
		}
		decision = gate.Decide(eligibility.Page{Path: o.path, IsFrontPage: o.path == "/", HTML: page})
		eligible = decision.Load
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := simulate.Run(ctx, page, simulate.Options{
		Mode:     mode,
		Eligible: eligible,
		Timeout:  o.timeout,
		Timeline: steps,
		Until:    o.until,
		Widget:   o.widget,
		Realtime: o.real,
		BaseURL:  o.base,
		Logger:   logger.Component("simulate"),
	})
	if err != nil {
		return err
	}

	if o.asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(struct {
			Decision eligibility.Decision `json:"decision"`
			Result   *simulate.Result     `json:"result"`
		}{decision, res}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("mode:      %s\n", res.Mode)
	fmt.Printf("eligible:  %t (%s)\n", decision.Load, decision.Reason)
	if res.Activated {
		fmt.Printf("activated: %s at %s\n", res.Trigger, res.ActivatedAt)
	} else {
		fmt.Println("activated: no")
	}
	fmt.Printf("widget:    ready=%t\n\n", res.WidgetReady)
	for _, entry := range res.Log {
		fmt.Printf("%8s  %-8s %s\n", entry.At, entry.Kind, entry.Detail)
	}
	if len(res.Executed) > 0 {
		fmt.Println("\nexecuted scripts:")
		for _, src := range res.Executed {
			fmt.Printf("  %s\n", src)
		}
	}
	return nil
}

func readPage(file string) (string, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, utils.MaxPageSize+1))
	if err != nil {
		return "", err
	}
	if err := utils.ValidateMarkup(string(data), "page", utils.MaxPageSize); err != nil {
		return "", err
	}
	return string(data), nil
}
