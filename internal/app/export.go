package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"lendsure/internal/storage"
)

// Export renders oracle observation history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PerilType == "" || opts.Location == "" {
		return errors.New("--peril and --location are required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

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

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := c.OracleDataBetween(ctx, opts.PerilType, opts.Location, from.Unix(), to.Unix())
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no observations found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, opts.PerilType, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []storage.OracleDataPoint, max int) []storage.OracleDataPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]storage.OracleDataPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []storage.OracleDataPoint) error {
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

	header := []string{"observed_at", "oracle_id", "peril_type", "location", "magnitude"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			time.Unix(point.Timestamp, 0).UTC().Format(time.RFC3339),
			point.OracleID,
			point.PerilType,
			point.Location,
			point.Magnitude.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePointsPNG(path, perilType string, points []storage.OracleDataPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	magnitude := make([]float64, len(points))
	for i, point := range points {
		x[i] = time.Unix(point.Timestamp, 0).UTC()
		magnitude[i] = point.Magnitude.InexactFloat64()
	}

	magnitudeFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Magnitude",
			ValueFormatter: magnitudeFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    perilType,
				XValues: x,
				YValues: magnitude,
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
