package discover

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/nicktill/whisperflux/pkg/identity"
)

// csvHeader is the exact column prefix a monitoring export carries.
var csvHeader = []string{"host.name", "name", "checkcommand_name", "state.performance_data"}

// perfLabel matches one perfdata item: a label (possibly single-quoted,
// possibly containing spaces inside the quotes) followed by = and a value
// blob this source does not interpret.
var perfLabel = regexp.MustCompile(`((?:'[^']*'|\S+))=(\S+)`)

// CSVSource yields one target per perfdata label of each exported check
// row. The export knows nothing about stored history, so EarliestTS is
// always 0.
type CSVSource struct {
	Path string
}

// Name identifies the source in logs.
func (s *CSVSource) Name() string {
	return "csv:" + s.Path
}

// Discover streams the export row by row. A wrong header fails before any
// row is visited.
func (s *CSVSource) Discover(ctx context.Context, visit func(Target) error) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("failed to open csv export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("failed to read csv header: %w", err)
	}
	if !headerMatches(header) {
		return fmt.Errorf("unexpected csv header %v, want %v", header, csvHeader)
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(row) < len(csvHeader) {
			continue
		}

		host, service, check, perf := row[0], row[1], row[2], row[3]
		if service == "" {
			service = identity.HostCheckService
		}

		for _, m := range perfLabel.FindAllStringSubmatch(perf, -1) {
			label := strings.Trim(m[1], "'")
			if label == "" {
				continue
			}
			t := Target{Ref: identity.MetricRef{
				EntityIdentity: identity.EntityIdentity{Host: host, Service: service, CheckCommand: check},
				Metric:         label,
			}}
			if err := visit(t); err != nil {
				return err
			}
		}
	}
}

func headerMatches(header []string) bool {
	if len(header) < len(csvHeader) {
		return false
	}
	for i, want := range csvHeader {
		if strings.TrimSpace(header[i]) != want {
			return false
		}
	}
	return true
}
