package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/analysis"
	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/report"
	"github.com/raterudder/hems/pkg/storage"
)

// analyze runs the three strategy comparison once against the stored devices
// and prints the totals.
func main() {
	ctrl := controller.Configured()
	db := storage.Configured()
	reports := report.Configured()
	sim := analysis.Configured(db, reports, metrics.Nop{}, ctrl)
	lflag.Configure()

	ctx := context.Background()
	defer db.Close()

	summary, _, err := sim.Run(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "analysis failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Print(summary.String())
	fmt.Printf("\nSavings: $%.2f\n", summary.SavingsDollars)
	for _, path := range summary.FilePaths() {
		fmt.Println("Wrote", path)
	}
}
