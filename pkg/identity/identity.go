package identity

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrEmptyComponent reports an identity component that is empty once
// sanitized and therefore cannot form a path segment in the archive tree.
var ErrEmptyComponent = errors.New("empty identity component")

// HostCheckService is the pseudo service name the monitoring system assigns
// to host-level checks. Archives for host checks live under the "host"
// subtree instead of "services".
const HostCheckService = "HOSTCHECK"

// EntityIdentity names one monitored object: the host, the service checked
// on it, and the command that produced the perfdata.
type EntityIdentity struct {
	Host         string `json:"host"`
	Service      string `json:"service"`
	CheckCommand string `json:"check_command"`
}

// IsHostCheck reports whether the identity belongs to a host-level check.
func (e EntityIdentity) IsHostCheck() bool {
	return e.Service == HostCheckService
}

// MetricRef is the unit of conversion work: one perfdata metric of one
// entity, backed by exactly one value.wsp archive on disk.
type MetricRef struct {
	EntityIdentity
	Metric string `json:"metric"`
}

// SeriesKey returns the canonical identity string for the ref, with tag keys
// in sorted order so the key is deterministic. Checkpoint lookups and log
// lines both use it.
func (r MetricRef) SeriesKey() string {
	var b strings.Builder
	b.Grow(len(r.Metric) + len(r.CheckCommand) + len(r.Host) + len(r.Service) + 40)
	b.WriteString(r.Metric)
	b.WriteString(",check_command=")
	b.WriteString(r.CheckCommand)
	b.WriteString(",host=")
	b.WriteString(r.Host)
	b.WriteString(",service=")
	b.WriteString(r.Service)
	return b.String()
}

func (r MetricRef) String() string {
	return r.SeriesKey()
}

// SanitizeName folds a raw monitoring name into its on-disk form: runs of
// backslashes, slashes, whitespace and dots collapse into a single
// underscore, then the "::" scope separator becomes "/" when allowSlash is
// set (metric names, where each scope opens a subdirectory) and "_"
// otherwise. Pure string work, no side effects.
func SanitizeName(name string, allowSlash bool) string {
	var b strings.Builder
	b.Grow(len(name))
	run := false
	for _, r := range name {
		if r == '\\' || r == '/' || r == '.' || unicode.IsSpace(r) {
			run = true
			continue
		}
		if run {
			b.WriteByte('_')
			run = false
		}
		b.WriteRune(r)
	}
	if run {
		b.WriteByte('_')
	}
	out := b.String()
	if allowSlash {
		return strings.ReplaceAll(out, "::", "/")
	}
	return strings.ReplaceAll(out, "::", "_")
}

// ArchivePath resolves the value.wsp location for a ref under base:
//
//	base/<host>/<host|services>/<service>/<check_command>/perfdata/<metric>/value.wsp
//
// Host and service are sanitized without slashes, the metric with slashes,
// and the check command is taken verbatim, mirroring the layout the live
// perfdata writer produces. Deterministic, no filesystem access.
func ArchivePath(base string, ref MetricRef) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path: %w", ErrEmptyComponent)
	}

	host := SanitizeName(ref.Host, false)
	if host == "" {
		return "", fmt.Errorf("host %q: %w", ref.Host, ErrEmptyComponent)
	}
	service := SanitizeName(ref.Service, false)
	if service == "" {
		return "", fmt.Errorf("service %q: %w", ref.Service, ErrEmptyComponent)
	}
	if ref.CheckCommand == "" {
		return "", fmt.Errorf("check command: %w", ErrEmptyComponent)
	}
	metric := SanitizeName(ref.Metric, true)
	if strings.Trim(metric, "/") == "" {
		return "", fmt.Errorf("metric %q: %w", ref.Metric, ErrEmptyComponent)
	}

	wtype := "services"
	if ref.IsHostCheck() {
		wtype = "host"
	}

	return filepath.Join(base, host, wtype, service, ref.CheckCommand, "perfdata", metric, "value.wsp"), nil
}
