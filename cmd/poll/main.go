// Command poll runs one ingestion pass from the command line, or prints
// polling status and logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"ClarityPull/internal/di"
	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/pkg/config"
	"ClarityPull/pkg/util"
)

type flags struct {
	configPath string
	symbols    string
	groups     map[string]*bool
	latestOnly bool
	fromDate   string
	reset      bool
	status     bool
	logs       int
}

func parseFlags() *flags {
	f := &flags{groups: map[string]*bool{}}
	flag.StringVar(&f.configPath, "config", "config/config.yaml", "config file path")
	flag.StringVar(&f.symbols, "symbol", "", "comma separated symbol names, optionally market/name")
	f.groups[models.GroupIndia] = flag.Bool("allindia", false, "poll every India index")
	f.groups[models.GroupUS] = flag.Bool("allus", false, "poll every US index")
	f.groups[models.GroupInternational] = flag.Bool("allinternational", false, "poll every international index")
	f.groups[models.GroupIndexes] = flag.Bool("allindexes", false, "poll every stock index")
	f.groups[models.GroupCrypto] = flag.Bool("allcrypto", false, "poll every crypto symbol")
	f.groups[models.GroupMetals] = flag.Bool("allmetals", false, "poll every precious metal")
	f.groups[models.GroupAll] = flag.Bool("all", false, "poll every symbol")
	flag.BoolVar(&f.latestOnly, "latest_only", false, "fetch only the newest observation")
	flag.StringVar(&f.fromDate, "from_date", "", "fetch observations on or after YYYY-MM-DD")
	flag.BoolVar(&f.reset, "reset", false, "delete stored history before a full fetch")
	flag.BoolVar(&f.status, "status", false, "print polling status and exit")
	flag.IntVar(&f.logs, "logs", 0, "print the N most recent polling logs and exit")
	flag.Parse()
	return f
}

// request converts flags into a poll request. Full history is the default.
func (f *flags) request() (models.PollRequest, error) {
	req := models.PollRequest{Mode: string(models.ModeFull), Symbols: util.SplitList(f.symbols)}
	for name, set := range f.groups {
		if *set {
			req.Groups = append(req.Groups, name)
		}
	}

	set := 0
	if f.latestOnly {
		req.Mode = string(models.ModeLatest)
		set++
	}
	if f.fromDate != "" {
		req.Mode = string(models.ModeFromDate)
		req.FromDate = f.fromDate
		set++
	}
	if f.reset {
		req.Mode = string(models.ModeReset)
		set++
	}
	if set > 1 {
		return req, errors.New("-latest_only, -from_date and -reset are mutually exclusive")
	}
	if len(req.Symbols) == 0 && len(req.Groups) == 0 {
		return req, errors.New("nothing to poll: pass -symbol or a group flag")
	}
	return req, nil
}

func main() {
	f := parseFlags()

	cfg, err := config.LoadWithEnv(f.configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	p, cleanup, err := di.InitializePoller(cfg)
	if err != nil {
		log.Fatalf("poller initialization failed: %v", err)
	}
	code := run(f, p)
	cleanup()
	os.Exit(code)
}

func run(f *flags, p *di.Poller) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case f.status:
		return printStatus(ctx, p)
	case f.logs > 0:
		return printLogs(ctx, p, f)
	}

	req, err := f.request()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return 2
	}

	// A previous run killed mid-poll leaves its symbols in processing.
	if n, err := p.Status.Recover(ctx); err != nil {
		log.Printf("status recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("recovered %d interrupted polls", n)
	}

	start := time.Now()
	summary, err := p.Polls.Execute(ctx, req)
	var verr *domrepo.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintln(os.Stderr, verr)
		return 2
	}

	fmt.Printf("mode=%s took=%s\n", req.Mode, time.Since(start).Round(time.Millisecond))
	fmt.Printf("succeeded (%d): %s\n", len(summary.Succeeded), strings.Join(summary.Succeeded, ", "))
	fmt.Printf("failed    (%d): %s\n", len(summary.Failed), strings.Join(summary.Failed, ", "))
	fmt.Printf("skipped   (%d): %s\n", len(summary.Skipped), strings.Join(summary.Skipped, ", "))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(summary.Failed) > 0 {
		return 1
	}
	return 0
}

func printStatus(ctx context.Context, p *di.Poller) int {
	views, err := p.Polls.Statuses(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tSYMBOL\tSTATE\tSTALE\tUPDATED\tERROR")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			v.Market, v.Symbol, v.State, v.Stale, v.LastUpdatedAt.Format(time.RFC3339), v.LastError)
	}
	_ = w.Flush()
	return 0
}

func printLogs(ctx context.Context, p *di.Poller, f *flags) int {
	req := models.LogsRequest{Limit: f.logs}
	if !strings.Contains(f.symbols, ",") {
		req.Symbol = strings.TrimSpace(f.symbols)
	}
	logs, err := p.Polls.Logs(ctx, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tMARKET\tSYMBOL\tMODE\tOUTCOME\tINS\tUPD\tREJ\tTOOK\tERROR")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			l.CreatedAt.Format(time.DateTime), l.Market, l.Symbol, l.Mode, l.Outcome,
			l.RowsInserted, l.RowsUpdated, l.RowsRejected, l.Duration.Round(time.Millisecond), l.ErrorMessage)
	}
	_ = w.Flush()
	return 0
}
