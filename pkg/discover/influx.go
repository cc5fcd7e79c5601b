package discover

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nicktill/whisperflux/pkg/identity"
	"github.com/nicktill/whisperflux/pkg/influx"
)

// InfluxSource explores the source database the live perfdata writer fills:
// every measurement is a check command, and each series carries hostname,
// service and metric tags. The FIRST() of each series bounds how far back
// that series actually goes, which the pipeline uses to tighten the read
// window.
type InfluxSource struct {
	Client *influx.Client
	DB     string

	// From restricts exploration to series with data at or after this
	// epoch second. Zero explores everything.
	From int64
}

// Name identifies the source in logs.
func (s *InfluxSource) Name() string {
	return "influxdb:" + s.DB
}

// Discover lists measurements, then walks each measurement's tag groups.
func (s *InfluxSource) Discover(ctx context.Context, visit func(Target) error) error {
	series, err := s.Client.Query(ctx, s.DB, "SHOW MEASUREMENTS")
	if err != nil {
		return fmt.Errorf("failed to list measurements: %w", err)
	}

	var measurements []string
	for _, ser := range series {
		for _, row := range ser.Values {
			if len(row) == 0 {
				continue
			}
			if name, ok := row[0].(string); ok && name != "" {
				measurements = append(measurements, name)
			}
		}
	}
	log.Printf("discover: %d measurements in %s", len(measurements), s.DB)

	for _, m := range measurements {
		if err := ctx.Err(); err != nil {
			return err
		}

		stmt := fmt.Sprintf(
			`SELECT FIRST("value") FROM %s WHERE time >= %ds GROUP BY "hostname", "service", "metric"`,
			quoteIdent(m), s.From,
		)
		groups, err := s.Client.Query(ctx, s.DB, stmt)
		if err != nil {
			return fmt.Errorf("failed to explore measurement %q: %w", m, err)
		}

		for _, g := range groups {
			ref := identity.MetricRef{
				EntityIdentity: identity.EntityIdentity{
					Host:         g.Tags["hostname"],
					Service:      g.Tags["service"],
					CheckCommand: m,
				},
				Metric: g.Tags["metric"],
			}
			if ref.Service == "" {
				// Host checks carry no service tag.
				ref.Service = identity.HostCheckService
			}

			if err := visit(Target{Ref: ref, EarliestTS: earliestTimestamp(g)}); err != nil {
				return err
			}
		}
	}
	return nil
}

// earliestTimestamp pulls the FIRST() row's epoch-seconds time column.
func earliestTimestamp(s influx.Series) int64 {
	if len(s.Values) == 0 || len(s.Values[0]) == 0 {
		return 0
	}
	switch v := s.Values[0][0].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// quoteIdent double-quotes an InfluxQL identifier.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `\"`) + `"`
}
