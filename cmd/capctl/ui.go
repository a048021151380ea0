package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	purple = lipgloss.Color("99")
	gray   = lipgloss.Color("245")
	white  = lipgloss.Color("15")
)

// printTable renders rows under headers. Styling is dropped when the output
// is not a terminal.
func printTable(cmd *cobra.Command, headers []string, rows [][]string) {
	re := lipgloss.NewRenderer(cmd.OutOrStdout())
	var (
		headerStyle = re.NewStyle().Foreground(white).Bold(true).PaddingLeft(1).PaddingRight(1)
		cellStyle   = re.NewStyle().Foreground(gray).PaddingLeft(1).PaddingRight(1)
		borderStyle = re.NewStyle().Foreground(purple)
	)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	fmt.Fprintln(cmd.OutOrStdout(), t.String())
}
