package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/storage"
)

// Export renders the delivery history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	attempts, err := store.ListDeliveryAttemptsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		a.Logger.Info().Msg("no delivery attempts found for export window")
		return nil
	}

	downsampled := downsampleAttempts(attempts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(attempts)).Int("exported", len(downsampled)).Msg("exporting delivery attempts")

	if opts.CSVPath != "" {
		if err := writeAttemptsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAttemptsPNG(opts.PNGPath, attempts); err != nil {
			return err
		}
	}

	return nil
}

func downsampleAttempts(attempts []storage.DeliveryAttempt, max int) []storage.DeliveryAttempt {
	if max <= 0 || len(attempts) <= max {
		return attempts
	}

	result := make([]storage.DeliveryAttempt, 0, max)
	step := float64(len(attempts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(attempts) {
			idx = len(attempts) - 1
		}
		result = append(result, attempts[idx])
	}
	return result
}

func writeAttemptsCSV(path string, attempts []storage.DeliveryAttempt) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "id", "alert_id", "symbol", "direction", "threshold", "price", "status", "attempts", "error_kind", "error", "run_id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, attempt := range attempts {
		errMsg := ""
		if attempt.Error != nil {
			errMsg = *attempt.Error
		}
		errKind := ""
		if attempt.ErrorKind != nil {
			errKind = *attempt.ErrorKind
		}
		record := []string{
			attempt.CreatedAt.UTC().Format(time.RFC3339),
			attempt.ID.String(),
			attempt.AlertID,
			attempt.Symbol,
			attempt.Direction,
			attempt.Threshold.String(),
			attempt.Price.String(),
			attempt.Status,
			strconv.Itoa(attempt.Attempts),
			errKind,
			errMsg,
			attempt.RunID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeAttemptsPNG plots daily delivery counts split by outcome.
func writeAttemptsPNG(path string, attempts []storage.DeliveryAttempt) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	succeeded := make(map[time.Time]float64)
	failed := make(map[time.Time]float64)
	for _, attempt := range attempts {
		day := attempt.CreatedAt.UTC().Truncate(24 * time.Hour)
		if attempt.Status == storage.DeliverySuccess {
			succeeded[day]++
		} else {
			failed[day]++
		}
	}

	days := make([]time.Time, 0, len(succeeded)+len(failed))
	seen := make(map[time.Time]struct{})
	for day := range succeeded {
		seen[day] = struct{}{}
	}
	for day := range failed {
		seen[day] = struct{}{}
	}
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	x := make([]time.Time, len(days))
	ok := make([]float64, len(days))
	bad := make([]float64, len(days))
	for i, day := range days {
		x[i] = day
		ok[i] = succeeded[day]
		bad[i] = failed[day]
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Deliveries per day",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Succeeded",
				XValues: x,
				YValues: ok,
			},
			chart.TimeSeries{
				Name:    "Failed",
				XValues: x,
				YValues: bad,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
