package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aretw0/max/pkg/domain"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <entity>",
	Short: "Query an entity across the running installations",
	Example: `  max query user --match team=core
  max query user --installation crm --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringSlice("match")
		match, err := parseMatch(pairs)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q := domain.Query{Entity: args[0], Match: match, Limit: limit}

		ws, err := connect(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		var res domain.QueryResult
		if id, _ := cmd.Flags().GetString("installation"); id != "" {
			inst, err := installation(ws, id)
			if err != nil {
				return err
			}
			set, err := inst.Engine().Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			res.Sets = []domain.ResultSet{set}
		} else {
			res, err = ws.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
		}
		if jsonMode(cmd) {
			return printJSON(cmd, res)
		}
		writeResult(cmd, res)
		return nil
	},
}

func parseMatch(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	match := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: match %q is not key=value", domain.ErrInvalidArgs, p)
		}
		match[k] = v
	}
	return match, nil
}

func writeResult(cmd *cobra.Command, res domain.QueryResult) {
	w := cmd.OutOrStdout()
	for _, set := range res.Sets {
		fmt.Fprintf(w, "%s (%d)\n", set.Installation, len(set.Records))
		for _, r := range set.Records {
			fields := make([]string, 0, len(r.Fields))
			for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
				fields = append(fields, fmt.Sprintf("%s=%v", k, r.Fields[k]))
			}
			fmt.Fprintf(w, "  %s  %s\n", r.ID, strings.Join(fields, " "))
		}
		if set.Truncated {
			fmt.Fprintln(w, "  ...")
		}
	}
	for _, id := range slices.Sorted(maps.Keys(res.Errors)) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", id, res.Errors[id])
	}
}

func init() {
	queryCmd.Flags().StringSlice("match", nil, "Field equality filter as key=value (repeatable)")
	queryCmd.Flags().Int("limit", 0, "Maximum records per installation")
	queryCmd.Flags().String("installation", "", "Query one installation only")
	rootCmd.AddCommand(queryCmd)
}
