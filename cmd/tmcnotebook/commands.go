package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"tmcnotebook/internal/archive"
	"tmcnotebook/internal/cell"
	"tmcnotebook/internal/core"
	"tmcnotebook/internal/notebook"
	"tmcnotebook/pkg/domain"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var cellTypeAliases = map[string]domain.CellType{
	"year":     domain.CellTypeYear,
	"filter":   domain.CellTypeFilter,
	"traverse": domain.CellTypeTraverse,
	"diff":     domain.CellTypeDiff,
}

func parseCellType(s string) (domain.CellType, error) {
	if ct, ok := cellTypeAliases[strings.ToLower(s)]; ok {
		return ct, nil
	}
	if ct := domain.CellType(s); ct.Valid() {
		return ct, nil
	}
	return "", fmt.Errorf("unknown cell type %q", s)
}

func parseCellID(s string) (domain.CellID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cell id %q", s)
	}
	return domain.CellID(id), nil
}

// parsePayload converts a command-line value into the payload type the
// reducer expects for kind.
func parsePayload(kind domain.ActionType, value string) (any, error) {
	switch kind {
	case domain.ActionSetName, domain.ActionSetPropertyName, domain.ActionSetPropertyValue:
		return value, nil
	case domain.ActionSetDependency:
		if value == "" || value == "none" {
			return nil, nil
		}
		return parseCellID(value)
	case domain.ActionSetYear:
		return strconv.Atoi(value)
	case domain.ActionSetMapSource:
		return domain.MapSource(value), nil
	case domain.ActionSetPropertySource:
		return domain.PropertySource(value), nil
	case domain.ActionSetDirection:
		return domain.Direction(strings.ToUpper(value)), nil
	case domain.ActionSetDistance:
		return strconv.ParseFloat(value, 64)
	case domain.ActionToggleLayerVisibility:
		return value, nil
	default:
		return nil, fmt.Errorf("action %s cannot be set from the command line", kind)
	}
}

func yearFallback(year int) (domain.DependencyRef, error) {
	if year == 0 {
		return domain.DependencyRef{}, nil
	}
	if !domain.ValidYear(year) {
		return domain.DependencyRef{}, fmt.Errorf("unsupported year %d", year)
	}
	return domain.SyntheticYearContext(year), nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newCreateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <type> [name]",
		Short: "Create a cell (year, filter, traverse or diff)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := parseCellType(args[0])
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			c, _, err := reg.Create(cmd.Context(), ct, name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "%d\n", c.ID())
			return err
		},
	}
}

func newSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <cell-id> <action> [value]",
		Short: "Dispatch an action such as SET_YEAR or SET_DEPENDENCY to a cell",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			kind := domain.ActionType(strings.ToUpper(args[1]))
			value := ""
			if len(args) == 3 {
				value = args[2]
			}
			payload, err := parsePayload(kind, value)
			if err != nil {
				return err
			}
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			before, ok := reg.Get(id)
			if !ok {
				return fmt.Errorf("cell %d: %w", id, domain.ErrNotFound)
			}
			after, res, err := reg.Dispatch(cmd.Context(), id, domain.Action{Type: kind, Payload: payload})
			if err != nil {
				return err
			}
			for _, v := range res.Violations {
				if _, werr := fmt.Fprintf(a.stderr, "%s: %s\n", v.Severity, v.Message); werr != nil {
					return werr
				}
			}
			if cell.Same(before, after) {
				return fmt.Errorf("%s %q left cell %d unchanged", kind, value, id)
			}
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cells with their dependencies and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			if _, err := fmt.Fprintln(tw, "ID\tTYPE\tNAME\tREADY\tDEPENDENCIES"); err != nil {
				return err
			}
			for _, c := range reg.Values() {
				deps := make([]string, 0, len(c.Dependencies()))
				for _, d := range c.Dependencies() {
					deps = append(deps, strconv.FormatInt(int64(d), 10))
				}
				if _, err := fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", c.ID(), c.Type(), c.Name(), c.IsReady(), strings.Join(deps, ",")); err != nil {
					return err
				}
			}
			return tw.Flush()
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <cell-id>",
		Short: "Remove a cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			res, err := reg.Remove(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, v := range res.Violations {
				if _, err := fmt.Fprintf(a.stderr, "%s: %s\n", v.Severity, v.Message); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the persisted graph against every rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			res, err := reg.Audit(cmd.Context())
			for _, v := range res.Violations {
				if _, werr := fmt.Fprintf(a.stderr, "%s: cell %d: %s\n", v.Severity, v.CellID, v.Message); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "ok: %d cells\n", reg.Len())
			return err
		},
	}
}

func newChainCommand(a *app) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "chain <cell-id>",
		Short: "Print the resolution request for a cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			fallback, err := yearFallback(year)
			if err != nil {
				return err
			}
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			req, err := reg.RequestChain(id, fallback)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, req)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year context used when the chain has no year cell")
	return cmd
}

func newResolveCommand(a *app) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "resolve <cell-id>",
		Short: "Resolve the TMCs produced by a cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			fallback, err := yearFallback(year)
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			tmcs, err := session.ResolveTMCs(cmd.Context(), id, fallback)
			if err != nil {
				return err
			}
			for _, tmc := range tmcs {
				if _, err := fmt.Fprintln(a.stdout, tmc); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year context used when the chain has no year cell")
	return cmd
}

func newFeaturesCommand(a *app) *cobra.Command {
	var (
		year   int
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "features <cell-id>",
		Short: "Resolve a cell and print its TMC geometry as GeoJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			fallback, err := yearFallback(year)
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			req, err := session.Registry().RequestChain(id, fallback)
			if err != nil {
				return err
			}
			if direct {
				fc, err := a.client.Features(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeJSON(a.stdout, fc)
			}
			chainYear, ok := core.ChainYear(req.DependencyCellsMeta)
			if !ok {
				return fmt.Errorf("cell %d has no year in its chain: %w", id, domain.ErrIllegalState)
			}
			tmcs, err := session.ResolveTMCs(cmd.Context(), id, fallback)
			if err != nil {
				return err
			}
			fc, err := a.cache.FeatureCollection(cmd.Context(), chainYear, tmcs)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, fc)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year context used when the chain has no year cell")
	cmd.Flags().BoolVar(&direct, "direct", false, "ask the service for the chain's features in one request, bypassing the geometry cache")
	return cmd
}

func newCandidatesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <cell-id>",
		Short: "List the map cells a cell may depend on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range session.DependencyCandidates(id) {
				if _, err := fmt.Fprintf(a.stdout, "%d\t%s\n", c.ID(), c.Name()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newAddLayerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-layer <diff-cell-id>",
		Short: "Add a comparison layer to a diff cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			layerID, err := session.AddLayer(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, layerID)
			return err
		},
	}
}

func newSetLayerCommand(a *app) *cobra.Command {
	var depA, depB int64
	cmd := &cobra.Command{
		Use:   "set-layer <diff-cell-id> <layer-id>",
		Short: "Assign both sides of a diff layer; omitted sides are cleared",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			return session.SetLayerDependencies(cmd.Context(), id, args[1], optionalID(depA), optionalID(depB))
		},
	}
	cmd.Flags().Int64Var(&depA, "a", 0, "cell id of side A")
	cmd.Flags().Int64Var(&depB, "b", 0, "cell id of side B")
	return cmd
}

func optionalID(v int64) *domain.CellID {
	if v <= 0 {
		return nil
	}
	id := domain.CellID(v)
	return &id
}

func newLayerFeaturesCommand(a *app) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "layer-features <diff-cell-id> <layer-id>",
		Short: "Resolve both sides of a diff layer into GeoJSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			fallback, err := yearFallback(year)
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			lf, err := session.LayerFeatures(cmd.Context(), id, args[1], fallback)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, layerFeaturesOutput{A: lf.A, B: lf.B, Partition: lf.Partition})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year context used when a side has no year cell")
	return cmd
}

type layerFeaturesOutput struct {
	A         *domain.FeatureCollection `json:"a"`
	B         *domain.FeatureCollection `json:"b"`
	Partition notebook.LayerPartition   `json:"partition"`
}

func newCrossYearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cross-year <diff-cell-id> <layer-id> <tmc>",
		Short: "Describe a TMC across the two years of a diff layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCellID(args[0])
			if err != nil {
				return err
			}
			session, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			desc, err := session.CrossYear(cmd.Context(), id, args[1], args[2])
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, desc)
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the notebook to the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			if key == "" {
				key = archive.NewKey()
			}
			info, err := archive.ExportAs(cmd.Context(), store, key, reg.Snapshot(), a.now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, info.Key)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "archive key (default: a new notebooks/<uuid>.json key)")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <key>",
		Short: "Replace the notebook with an archived snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := archive.Import(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := reg.Restore(cmd.Context(), snap); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "imported %d cells\n", len(snap.Records))
			return err
		},
	}
}

func newArchivesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := archive.List(cmd.Context(), store)
			if err != nil {
				return err
			}
			for _, info := range infos {
				if _, err := fmt.Fprintf(a.stdout, "%s\t%d\n", info.Key, info.Size); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <key>",
		Short: "Delete an archived snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			return archive.Remove(cmd.Context(), store, args[0])
		},
	})
	return cmd
}
