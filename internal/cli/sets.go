package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thebtf/photodedup/internal/worker"
	"github.com/thebtf/photodedup/pkg/models"
)

var (
	setsLimit int
	setsJSON  bool
)

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List similar sets awaiting review",
	Long: `List surfaced similar sets, newest first.

Examples:
  photodedup sets
  photodedup sets --json -n 5
  photodedup sets keep 2024/06/IMG_0001.jpg
  photodedup sets remove 2024/06/IMG_0001.jpg 1 2
  photodedup sets remove-all 2024/06/IMG_0001.jpg`,
	RunE: runListSets,
}

var keepCmd = &cobra.Command{
	Use:   "keep <set-id>",
	Short: "Keep every photo of a set and hide it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
			if err := rt.Engine.KeepAll(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kept %s\n", args[0])
			return nil
		})
	},
}

var removeAllCmd = &cobra.Command{
	Use:   "remove-all <set-id>",
	Short: "Delete every photo of a set from the library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
			removed, err := rt.Engine.RemoveAll(ctx, args[0])
			if err != nil {
				return err
			}
			return printRemoved(cmd.OutOrStdout(), removed)
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <set-id> <index>...",
	Short: "Delete the selected members of a set from the library",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		indices, err := parseIndices(args[1:])
		if err != nil {
			return err
		}
		return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
			removed, err := rt.Engine.RemoveSelected(ctx, args[0], indices)
			if err != nil {
				return err
			}
			return printRemoved(cmd.OutOrStdout(), removed)
		})
	},
}

func init() {
	setsCmd.Flags().IntVarP(&setsLimit, "limit", "n", 20, "max sets to show")
	setsCmd.Flags().BoolVar(&setsJSON, "json", false, "print sets as JSON")

	setsCmd.AddCommand(keepCmd)
	setsCmd.AddCommand(removeCmd)
	setsCmd.AddCommand(removeAllCmd)
	rootCmd.AddCommand(setsCmd)
}

func runListSets(cmd *cobra.Command, args []string) error {
	return withRuntime(func(ctx context.Context, rt *worker.Runtime) error {
		sets, err := rt.Sets.ListSurfacedSets(ctx)
		if err != nil {
			return fmt.Errorf("list sets: %w", err)
		}
		if setsLimit > 0 && len(sets) > setsLimit {
			sets = sets[:setsLimit]
		}
		if setsJSON {
			return printJSON(cmd.OutOrStdout(), sets)
		}
		return printSets(cmd.OutOrStdout(), sets)
	})
}

func printSets(w io.Writer, sets []models.SimilarSet) error {
	if len(sets) == 0 {
		_, err := fmt.Fprintln(w, "No sets to review.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SET\tTAKEN\tPHOTOS\tMEMBERS")
	for _, s := range sets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			s.ID,
			s.Timestamp.Format("2006-01-02 15:04"),
			s.Len(),
			strings.Join(s.MemberIDs, ", "),
		)
	}
	return tw.Flush()
}

func printRemoved(w io.Writer, removed []string) error {
	for _, id := range removed {
		if _, err := fmt.Fprintf(w, "Removed %s\n", id); err != nil {
			return err
		}
	}
	return nil
}

func parseIndices(args []string) ([]int, error) {
	indices := make([]int, 0, len(args))
	for _, a := range args {
		i, err := strconv.Atoi(a)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid member index %q", a)
		}
		indices = append(indices, i)
	}
	return indices, nil
}
