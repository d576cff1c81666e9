package pricing

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// InfluxHistory reads daily OHLCV bars from the "stock_prices" measurement,
// tagged by ticker, with open/high/low/close/volume fields.
type InfluxHistory struct {
	query  api.QueryAPI
	bucket string
}

// NewInfluxHistory creates a history provider over an InfluxDB bucket.
func NewInfluxHistory(client influxdb2.Client, org, bucket string) *InfluxHistory {
	return &InfluxHistory{query: client.QueryAPI(org), bucket: bucket}
}

func (h *InfluxHistory) Name() string { return "influxdb" }

func (h *InfluxHistory) History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -%dd)
		  |> filter(fn: (r) => r._measurement == "stock_prices")
		  |> filter(fn: (r) => r.ticker == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, h.bucket, days, symbol)

	result, err := h.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influxdb query: %w", err)
	}
	defer result.Close()

	var points []model.PricePoint
	for result.Next() {
		record := result.Record()
		close, ok := record.ValueByKey("close").(float64)
		if !ok {
			continue
		}
		p := model.PricePoint{Date: timeseries.DateOf(record.Time()), Price: close}
		p.Open, _ = record.ValueByKey("open").(float64)
		p.High, _ = record.ValueByKey("high").(float64)
		p.Low, _ = record.ValueByKey("low").(float64)
		p.Volume, _ = record.ValueByKey("volume").(float64)
		points = append(points, p)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influxdb results: %w", result.Err())
	}
	return points, nil
}
