package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mapsync/internal/application/dto"
	"mapsync/internal/application/services"
	"mapsync/internal/domain/entities"
)

// mapAction runs fn against the map service of a freshly wired container
func mapAction(opts *globalOptions, fn func(cmd *cobra.Command, maps services.MapService, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := opts.container(cmd.Context(), "error")
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, c.Maps, args)
	}
}

func newMapCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Create, inspect and administer maps in the shared store",
	}

	var owner, title string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a map with its seed node",
		Args:  cobra.NoArgs,
		RunE: mapAction(opts, func(cmd *cobra.Command, maps services.MapService, _ []string) error {
			m, err := maps.CreateMap(cmd.Context(), owner, title)
			if err != nil {
				return err
			}
			Good.Fprintf(cmd.OutOrStdout(), "Created map %s\n", m.ID)
			printMap(cmd.OutOrStdout(), *m)
			return nil
		}),
	}
	create.Flags().StringVar(&owner, "owner", "", "owner user id")
	create.Flags().StringVar(&title, "title", "", "map title")
	_ = create.MarkFlagRequired("owner")

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the maps of an owner, newest first",
		Args:  cobra.NoArgs,
		RunE: mapAction(opts, func(cmd *cobra.Command, maps services.MapService, _ []string) error {
			all, err := maps.ListMaps(cmd.Context(), listOwner)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(all))
			for _, m := range all {
				rows = append(rows, []string{m.ID, m.Title, strconv.FormatBool(m.Shared), m.UpdatedAt.Format(time.RFC3339)})
			}
			table(cmd.OutOrStdout(), []string{"ID", "TITLE", "SHARED", "UPDATED"}, rows)
			return nil
		}),
	}
	list.Flags().StringVar(&listOwner, "owner", "", "owner user id")
	_ = list.MarkFlagRequired("owner")

	show := &cobra.Command{
		Use:   "show <map-id>",
		Short: "Show a map with its stored nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: mapAction(opts, func(cmd *cobra.Command, maps services.MapService, args []string) error {
			g, err := maps.GetMapGraph(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printMap(out, g.Map)
			view := dto.ToMapGraphView(g.Map, g.Nodes, g.Edges)
			fmt.Fprintln(out)
			printNodes(out, view.Nodes, nil)
			fmt.Fprintln(out)
			printEdges(out, view.Edges, view.Dangling)
			return nil
		}),
	}

	rename := &cobra.Command{
		Use:   "rename <map-id> <title>",
		Short: "Rename a map",
		Args:  cobra.MinimumNArgs(2),
		RunE: mapAction(opts, func(cmd *cobra.Command, maps services.MapService, args []string) error {
			m, err := maps.RenameMap(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			Good.Fprintf(cmd.OutOrStdout(), "Renamed to %q\n", m.Title)
			return nil
		}),
	}

	var private bool
	share := &cobra.Command{
		Use:   "share <map-id>",
		Short: "Share a map with every signed-in user, or stop sharing it with --off",
		Args:  cobra.ExactArgs(1),
		RunE: mapAction(opts, func(cmd *cobra.Command, maps services.MapService, args []string) error {
			m, err := maps.SetShared(cmd.Context(), args[0], !private)
			if err != nil {
				return err
			}
			Good.Fprintf(cmd.OutOrStdout(), "Shared: %t\n", m.Shared)
			return nil
		}),
	}
	share.Flags().BoolVar(&private, "off", false, "stop sharing")

	del := &cobra.Command{
		Use:   "delete <map-id>",
		Short: "Delete a map with its nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: mapAction(opts, func(cmd *cobra.Command, maps services.MapService, args []string) error {
			if err := maps.DeleteMap(cmd.Context(), args[0]); err != nil {
				return err
			}
			Good.Fprintf(cmd.OutOrStdout(), "Deleted map %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(create, list, show, rename, share, del)
	return cmd
}

func printMap(w io.Writer, m entities.MindMap) {
	Brand.Fprintln(w, m.Title)
	Subtle.Fprintf(w, "  id %s  owner %s  shared %s  updated %s\n",
		m.ID, m.OwnerID, statusIcon(m.Shared), m.UpdatedAt.Format(time.RFC3339))
}

func printNodes(w io.Writer, nodes []dto.NodeView, selected map[string]bool) {
	Info.Fprintf(w, "Nodes (%d)\n", len(nodes))
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		mark := ""
		if selected[n.ID] {
			mark = "*"
		}
		size := ""
		if n.Width != nil && n.Height != nil {
			size = fmt.Sprintf("%gx%g", *n.Width, *n.Height)
		}
		rows = append(rows, []string{mark, n.ID, fmt.Sprintf("%g,%g", n.Position.X, n.Position.Y), n.Color, size, n.Content})
	}
	table(w, []string{"", "ID", "POSITION", "COLOR", "SIZE", "CONTENT"}, rows)
}

func printEdges(w io.Writer, edges []dto.EdgeView, dangling int) {
	Info.Fprintf(w, "Edges (%d)\n", len(edges))
	rows := make([][]string, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, []string{e.ID, e.Source, e.Target, e.Type})
	}
	table(w, []string{"ID", "SOURCE", "TARGET", "TYPE"}, rows)
	if dangling > 0 {
		Warn.Fprintf(w, "  %d edge(s) point at missing nodes\n", dangling)
	}
}
