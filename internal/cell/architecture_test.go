package cell

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestStateModelHasNoIO ensures the cell model and domain types stay free of
// transport and storage concerns. Only the registry, persistence and
// resolution layers may reach for them.
func TestStateModelHasNoIO(t *testing.T) {
	forbidden := []string{
		"database/sql",
		"net/http",
		"os",
		"tmcnotebook/internal/core",
		"tmcnotebook/internal/infra",
		"tmcnotebook/internal/resolution",
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "tmcnotebook/internal/cell", "tmcnotebook/pkg/domain")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			for _, prefix := range forbidden {
				if importPath == prefix || strings.HasPrefix(importPath, prefix+"/") {
					violations = append(violations, pkg.PkgPath+": "+importPath)
				}
			}
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import: %s", v)
	}
}
