package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/erazemk/passdesk/internal/client"
	"github.com/erazemk/passdesk/internal/encoder"
	"github.com/erazemk/passdesk/internal/export"
	"github.com/erazemk/passdesk/internal/issuer"
	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/redeem"
)

const timeLayout = "2006-01-02 15:04:05"

func (a *app) cmdIssue(ctx context.Context, args []string) int {
	fs := a.newFlagSet("issue")
	passType := fs.String("type", "day_pass", "pass type: day_pass or full_pass")
	email := fs.String("email", "", "bind the pass to this account")
	first := fs.String("first", "", "holder first name")
	last := fs.String("last", "", "holder last name")
	pngPath := fs.String("png", "", "also write the QR image to this PNG file")
	svgPath := fs.String("svg", "", "also write the QR image to this SVG file")
	upload := fs.Bool("upload", true, "store the QR image on the server")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	pt, ok := model.ParsePassType(*passType)
	if !ok {
		fmt.Fprintf(a.stderr, "error: invalid pass type %q\n", *passType)
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	req := issuer.Request{PassType: pt, UserEmail: *email, FirstName: *first, LastName: *last}
	var out *issuer.Issued
	var err error
	if *upload {
		out, err = a.issuer.IssueAndStore(ctx, req)
	} else {
		var p *model.Pass
		p, err = a.issuer.Issue(ctx, req)
		out = &issuer.Issued{Pass: p}
	}
	if err != nil {
		return a.fail(err, client.FallbackGenerate)
	}

	p := out.Pass
	fmt.Fprintln(a.stdout, "QR code generated successfully")
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Code:\t%s\n", p.Code)
	fmt.Fprintf(w, "Type:\t%s\n", p.PassType.Label())
	fmt.Fprintf(w, "Holder:\t%s\n", orDash(p.HolderName()))
	if p.HolderEmail() != "" {
		fmt.Fprintf(w, "Email:\t%s\n", p.HolderEmail())
	}
	fmt.Fprintf(w, "Status:\t%s\n", p.Status)
	if p.ImageURL != "" {
		fmt.Fprintf(w, "Image:\t%s\n", p.ImageURL)
	}
	w.Flush()

	status := exitOK
	if out.EncodeErr != nil {
		fmt.Fprintf(a.stderr, "warning: %s\n", encodeWarning(out.EncodeErr))
	}

	if *pngPath != "" {
		data, err := a.encoder.PNG(p.Code)
		if err == nil {
			err = os.WriteFile(*pngPath, data, 0o644)
		}
		if err != nil {
			fmt.Fprintf(a.stderr, "error: writing PNG: %v\n", err)
			status = exitError
		}
	}
	if *svgPath != "" {
		sym, err := encoder.Render(p.Code)
		if err == nil {
			err = os.WriteFile(*svgPath, sym.SVG(a.cfg.QRSize), 0o644)
		}
		if err != nil {
			fmt.Fprintf(a.stderr, "error: writing SVG: %v\n", err)
			status = exitError
		}
	}
	return status
}

func encodeWarning(err error) string {
	switch {
	case errors.Is(err, encoder.ErrUnsupported):
		return "QR image could not be rendered on this system; the pass is valid without it"
	case errors.Is(err, encoder.ErrRasterize):
		return "failed to render QR image; the pass is valid without it"
	case errors.Is(err, encoder.ErrUpload):
		return "failed to upload QR image (" + client.Message(err, "upload error") + "); the pass is valid without it"
	}
	return err.Error()
}

func (a *app) cmdScan(ctx context.Context, args []string) int {
	fs := a.newFlagSet("scan")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	code := fs.Arg(0)
	if code == "" {
		fmt.Fprintf(a.stderr, "error: %s\n", redeem.EmptyCodeText)
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	out, err := a.redeemer.Redeem(ctx, code)
	if err != nil {
		if errors.Is(err, redeem.ErrEmptyCode) {
			fmt.Fprintf(a.stderr, "error: %s\n", redeem.EmptyCodeText)
			return exitError
		}
		return a.fail(err, client.FallbackScan)
	}
	a.printOutcome(out)
	if !out.Success() {
		return exitRejected
	}
	return exitOK
}

// cmdWatch treats each stdin line as a decoded camera frame. Frames that
// arrive while a redemption is in flight are dropped.
func (a *app) cmdWatch(ctx context.Context, args []string) int {
	fs := a.newFlagSet("watch")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	var mu sync.Mutex
	failed := false
	sess := redeem.NewScanSession(ctx, a.redeemer, func(r redeem.Result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			failed = true
			a.fail(r.Err, client.FallbackScan)
			return
		}
		a.printOutcome(r.Outcome)
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// Do not wait for the request in flight: the server may never
			// answer, and its result would be discarded anyway.
			sess.Close()
			return exitOK
		case line, ok := <-lines:
			if !ok {
				// Input ended: let the last redemption report, then stop.
				sess.Wait()
				sess.Close()
				fmt.Fprintf(a.stderr, "%d frame(s) dropped\n", sess.Dropped())
				mu.Lock()
				defer mu.Unlock()
				if failed {
					return exitError
				}
				return exitOK
			}
			sess.Submit(line)
		}
	}
}

func (a *app) printOutcome(o *redeem.Outcome) {
	switch o.Kind {
	case redeem.Redeemed:
		fmt.Fprintf(a.stdout, "ADMITTED  %s\n", orDefault(o.Message, "QR code scanned successfully"))
		if o.Pass != nil {
			fmt.Fprintf(a.stdout, "  %s, %s\n", o.Pass.PassType.Label(), orDash(o.Holder()))
		}
	case redeem.AlreadyUsed:
		fmt.Fprintf(a.stdout, "REJECTED  %s\n", orDefault(o.Message, "QR code already used"))
		if p := o.Pass; p != nil && p.ScannedAt != nil {
			fmt.Fprintf(a.stdout, "  scanned at %s by %s\n", p.ScannedAt.In(a.loc).Format(timeLayout), orDash(p.ScannerName()))
		}
	case redeem.Expired:
		fmt.Fprintf(a.stdout, "REJECTED  %s\n", orDefault(o.Message, "QR code has expired"))
	case redeem.NotFound:
		fmt.Fprintf(a.stdout, "REJECTED  %s\n", orDefault(o.Message, "Invalid QR code"))
	default:
		fmt.Fprintf(a.stdout, "REJECTED  %s\n", orDefault(o.Message, client.FallbackScan))
	}
	if o.Details != "" && o.Kind != redeem.AlreadyUsed {
		fmt.Fprintf(a.stdout, "  %s\n", o.Details)
	}
}

func (a *app) cmdList(ctx context.Context, args []string) int {
	fs := a.newFlagSet("list")
	status := fs.String("status", "all", "filter: all, active, used, expired")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 10, "passes per page")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	st, ok := parseStatus(*status)
	if !ok {
		fmt.Fprintf(a.stderr, "error: invalid status %q\n", *status)
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	res, err := a.client.ListPasses(ctx, client.ListQuery{Status: st, Page: *page, Limit: *limit})
	if err != nil {
		return a.fail(err, "Failed to fetch QR codes")
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tTYPE\tSTATUS\tHOLDER\tCREATED\tSCANNED")
	for _, p := range res.Passes {
		scanned := "-"
		if p.ScannedAt != nil {
			scanned = p.ScannedAt.In(a.loc).Format(timeLayout)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Code, p.PassType.Label(), p.Status, orDash(p.HolderName()),
			p.CreatedAt.In(a.loc).Format(timeLayout), scanned)
	}
	w.Flush()

	pg := res.Pagination
	a.printer.Fprintf(a.stdout, "Page %d of %d (%d total)\n", pg.Page, max(pg.TotalPages, 1), pg.Total)
	return exitOK
}

func (a *app) cmdStats(ctx context.Context, args []string) int {
	if !a.requireSession(ctx) {
		return exitError
	}
	st, err := a.client.PassStats(ctx)
	if err != nil {
		return a.fail(err, "Failed to fetch statistics")
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	a.printer.Fprintf(w, "Total\t%d\t\n", st.Total)
	a.printer.Fprintf(w, "Active\t%d\t\n", st.Active)
	a.printer.Fprintf(w, "Used\t%d\t\n", st.Used)
	a.printer.Fprintf(w, "Expired\t%d\t\n", st.Expired)
	w.Flush()
	return exitOK
}

func (a *app) cmdExport(ctx context.Context, args []string) int {
	fs := a.newFlagSet("export")
	status := fs.String("status", "all", "filter: all, active, used, expired")
	page := fs.Int("page", 1, "page to export")
	limit := fs.Int("limit", 10, "passes per page")
	all := fs.Bool("all", false, "export every page")
	outPath := fs.String("o", "", "output file, - for stdout (default: qr-codes-YYYY-MM-DD.csv)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	st, ok := parseStatus(*status)
	if !ok {
		fmt.Fprintf(a.stderr, "error: invalid status %q\n", *status)
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	var passes []model.Pass
	if *all {
		every, err := a.client.ListAllPasses(ctx, st)
		if err != nil {
			return a.fail(err, "Failed to fetch QR codes")
		}
		passes = every
	} else {
		res, err := a.client.ListPasses(ctx, client.ListQuery{Status: st, Page: *page, Limit: *limit})
		if err != nil {
			return a.fail(err, "Failed to fetch QR codes")
		}
		passes = res.Passes
	}
	passes = export.Filter(passes, *status)

	if *outPath == "-" {
		if err := export.WriteCSV(a.stdout, passes, a.loc); err != nil {
			return a.fail(err, "Failed to export")
		}
		return exitOK
	}

	path := *outPath
	if path == "" {
		path = export.FileName(a.now().In(a.loc))
	}
	f, err := os.Create(path)
	if err != nil {
		return a.fail(err, "Failed to export")
	}
	if err := export.WriteCSV(f, passes, a.loc); err != nil {
		f.Close()
		return a.fail(err, "Failed to export")
	}
	if err := f.Close(); err != nil {
		return a.fail(err, "Failed to export")
	}
	a.printer.Fprintf(a.stdout, "Exported %d pass(es) to %s\n", len(passes), path)
	return exitOK
}

func parseStatus(s string) (model.Status, bool) {
	if s == "" || s == "all" {
		return "", true
	}
	st := model.Status(s)
	return st, st.Valid()
}

func orDash(s string) string {
	return orDefault(s, "-")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
