// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcp-switchboard/switchboard/internal/cloud"
	"github.com/mcp-switchboard/switchboard/internal/util"
)

// modelList is the --json shape of "models".
type modelList struct {
	Current string            `json:"current"`
	Models  []cloud.ModelInfo `json:"models"`
}

func modelsCmd(rt *runtime) *cobra.Command {
	var (
		jsonOut bool
		filter  string
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available to your API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !jsonOut {
				if err := ensureConfigured(cmd, rt); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			handler := func() (any, error) {
				models, err := rt.svc.AvailableModels(cmd.Context())
				if err != nil {
					return nil, err
				}
				return modelList{
					Current: rt.svc.CurrentModel(),
					Models:  filterModels(models, filter),
				}, nil
			}

			if jsonOut {
				return OutputJSON(out, "models", handler)
			}

			data, err := handler()
			if err != nil {
				return err
			}
			list := data.(modelList)
			renderModelTable(out, list.Models, list.Current, GetTerminalWidth())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only models whose ID or organization contains this text")
	return cmd
}

// filterModels keeps models matching filter (case-insensitive) and sorts
// them by organization, then ID.
func filterModels(models []cloud.ModelInfo, filter string) []cloud.ModelInfo {
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]cloud.ModelInfo, 0, len(models))
	for _, m := range models {
		if filter == "" ||
			strings.Contains(strings.ToLower(m.ID), filter) ||
			strings.Contains(strings.ToLower(m.Organization), filter) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b cloud.ModelInfo) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Organization), strings.ToLower(b.Organization)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

// renderModelTable prints one row per model, truncating the ID and name
// columns by display width so wide characters keep the columns aligned.
func renderModelTable(w io.Writer, models []cloud.ModelInfo, current string, width int) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models available."))
		return
	}

	const (
		markerWidth = 2
		orgWidth    = 14
		ctxWidth    = 8
		gaps        = 3
	)
	rest := width - markerWidth - orgWidth - ctxWidth - gaps
	idWidth := max(rest*3/5, 16)
	nameWidth := max(rest-idWidth, 12)

	header := "  " +
		util.PadWidth("MODEL", idWidth) + " " +
		util.PadWidth("NAME", nameWidth) + " " +
		util.PadWidth("ORG", orgWidth) + " " +
		"CONTEXT"
	fmt.Fprintln(w, DimStyle.Render(header))

	for _, m := range models {
		marker := "  "
		if m.ID == current {
			marker = "* "
		}

		ctx := "-"
		if m.ContextLength > 0 {
			ctx = strconv.Itoa(m.ContextLength)
		}

		row := marker +
			util.PadWidth(util.TruncateWidth(m.ID, idWidth), idWidth) + " " +
			util.PadWidth(util.TruncateWidth(m.DisplayName, nameWidth), nameWidth) + " " +
			util.PadWidth(util.TruncateWidth(m.Organization, orgWidth), orgWidth) + " " +
			ctx

		if m.ID == current {
			row = HighlightStyle.Render(row)
		}
		fmt.Fprintln(w, row)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d models, current: %s\n", DimStyle.Render("*"), len(models), current)
}
