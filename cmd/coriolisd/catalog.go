package main

import (
	"fmt"
	"os"

	"github.com/coriolis-mq/coriolis/pkg/flags"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of the --catalog YAML file: the set
// of applications and the flags each one declares. A flag's migration
// is a name, not a Go function value, so it can be declared in YAML —
// migration is resolved against the table passed to
// flags.Coordinator.WithMigrations (see builtinMigrations in
// migrations.go) at enable time; a name with no registered function
// surfaces as invalid_migration_fun rather than failing to parse.
type catalogFile struct {
	Apps []catalogApp `yaml:"apps"`
}

type catalogApp struct {
	Name  string                  `yaml:"name"`
	Flags map[string]catalogFlag `yaml:"flags"`
}

type catalogFlag struct {
	Desc      string   `yaml:"desc"`
	DependsOn []string `yaml:"depends_on"`
	Migration string   `yaml:"migration"`
	Stability string   `yaml:"stability"`
}

// loadCatalog reads a --catalog YAML file into a flags.StaticCatalog.
// An empty path yields an empty catalog, so "coriolisd serve" is
// still runnable with zero declared flags.
func loadCatalog(path string) (*flags.StaticCatalog, error) {
	if path == "" {
		return flags.NewStaticCatalog(nil), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	apps := make([]flags.Application, 0, len(cf.Apps))
	for _, a := range cf.Apps {
		declared := make(map[flags.Name]flags.Properties, len(a.Flags))
		for name, f := range a.Flags {
			dependsOn := make([]flags.Name, 0, len(f.DependsOn))
			for _, d := range f.DependsOn {
				dependsOn = append(dependsOn, flags.Name(d))
			}
			declared[flags.Name(name)] = flags.Properties{
				Desc:         f.Desc,
				DependsOn:    dependsOn,
				MigrationRef: flags.Name(f.Migration),
				Stability:    f.Stability,
			}
		}
		apps = append(apps, flags.Application{Name: a.Name, Flags: declared})
	}

	return flags.NewStaticCatalog(apps), nil
}
