package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent loans and appraisal requests.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	backend, closeBackend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	if closeBackend != nil {
		defer closeBackend()
	}

	c, err := a.buildCore(backend)
	if err != nil {
		return err
	}

	loans, err := c.RecentLoans(ctx, opts.Limit)
	if err != nil {
		return err
	}
	appraisals, err := c.RecentAppraisals(ctx, opts.Limit)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "Loan\tBorrower\tCollection\tItem\tAmount\tRate(bps)\tState\tStart")
	if len(loans) == 0 {
		fmt.Fprintln(writer, "(none)")
	}
	for _, loan := range loans {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%d\t%d\t%s\t%d\n",
			loan.ID,
			loan.Borrower.Hex(),
			loan.Collection,
			sanitizeInline(loan.ItemID),
			loan.Amount,
			loan.RateBps,
			loan.State.String(),
			loan.StartHeight,
		)
	}

	fmt.Fprintln(writer, "")
	fmt.Fprintln(writer, "Appraisal\tCollection\tItem\tStatus\tSubmissions\tFinal\tCreated")
	if len(appraisals) == 0 {
		fmt.Fprintln(writer, "(none)")
	}
	for _, req := range appraisals {
		final := "-"
		if req.FinalValue != nil {
			final = fmt.Sprintf("%d", *req.FinalValue)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			req.ID,
			req.Collection,
			sanitizeInline(req.ItemID),
			req.Status,
			len(req.Submissions),
			final,
			req.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
