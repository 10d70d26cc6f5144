// Package db embeds the versioned SQL migrations.
package db

import (
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migration is one schema change. Version is the file name without the
// .sql suffix; versions apply in lexical order.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded migrations in apply order.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "glob migrations")
	}
	slices.Sort(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(path.Base(name), ".sql"),
			SQL:     string(b),
		})
	}
	return out, nil
}
