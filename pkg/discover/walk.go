package discover

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/nicktill/whisperflux/pkg/identity"
)

// WalkSource discovers archives by walking the tree itself. Slower than
// asking the database but fully self-contained, which makes it the right
// source when the original database is gone or unreachable.
type WalkSource struct {
	Base string
}

// Name identifies the source in logs.
func (s *WalkSource) Name() string {
	return "walk:" + s.Base
}

// Discover walks Base for value.wsp files and reverse-maps the directory
// layout to refs. Directory names are already the sanitized on-disk
// forms; nesting below perfdata can only come from scope separators, so
// joining those segments with "::" restores a name that resolves back to
// the same path.
func (s *WalkSource) Discover(ctx context.Context, visit func(Target) error) error {
	base := filepath.Clean(s.Base)

	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "value.wsp" {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		// host / {host|services} / service / check_command / perfdata / metric... / value.wsp
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 7 || parts[4] != "perfdata" || (parts[1] != "services" && parts[1] != "host") {
			log.Printf("discover: archive outside the perfdata layout, skipping: %s", rel)
			return nil
		}

		ref := identity.MetricRef{
			EntityIdentity: identity.EntityIdentity{
				Host:         parts[0],
				Service:      parts[2],
				CheckCommand: parts[3],
			},
			Metric: strings.Join(parts[5:len(parts)-1], "::"),
		}
		return visit(Target{Ref: ref})
	})
}
