package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskbot/internal/config"
	"taskbot/internal/routing"
)

var (
	routesFile  string
	routesWrite bool
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the routing graph",
	Long: `Loads the routing document named by routing.path (or --file), prints
sources and targets, and reports legacy or inconsistent entries. With
--write the normalized document is saved back.`,
	Args: cobra.NoArgs,
	RunE: runRoutes,
}

func init() {
	routesCmd.Flags().StringVarP(&routesFile, "file", "f", "", "routing document, overrides routing.path")
	routesCmd.Flags().BoolVar(&routesWrite, "write", false, "rewrite a migrated or repaired document")
}

func routingPath() (string, error) {
	if p := strings.TrimSpace(routesFile); p != "" {
		return p, nil
	}
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return "", err
	}
	if p := strings.TrimSpace(cfg.Routing.Path); p != "" {
		return p, nil
	}
	return "", errors.New("routing.path is not set; pass --file")
}

func runRoutes(cmd *cobra.Command, _ []string) error {
	path, err := routingPath()
	if err != nil {
		return err
	}
	store := routing.FileStore{Path: path}
	doc, migrated, err := store.Load()
	if err != nil {
		return err
	}
	g, repairs := routing.NewGraph(doc, nil)

	w := cmd.OutOrStdout()
	if err := printGraph(w, g); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s: %d sources, %d targets, %d unlinked\n", path, len(g.Sources()), len(g.Targets()), len(g.Unlinked()))

	if !migrated && repairs == 0 {
		return nil
	}
	if !routesWrite {
		fmt.Fprintf(w, "document needs a rewrite (legacy=%t, repairs=%d); run again with --write\n", migrated, repairs)
		return nil
	}
	if err := store.Save(g.Document()); err != nil {
		return err
	}
	fmt.Fprintln(w, "document rewritten")
	return nil
}

func printGraph(w io.Writer, g *routing.Graph) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tNAME\tTARGETS")
	for _, s := range g.Sources() {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", s.ID, s.Name, len(g.TargetsForSource(s.ID)))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TARGET\tNAME\tSOURCES")
	for _, t := range g.Targets() {
		links := "unlinked"
		if len(t.SourceIDs) > 0 {
			ids := make([]string, len(t.SourceIDs))
			for i, id := range t.SourceIDs {
				ids[i] = strconv.FormatInt(id, 10)
			}
			links = strings.Join(ids, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Key, t.Name, links)
	}
	return tw.Flush()
}
