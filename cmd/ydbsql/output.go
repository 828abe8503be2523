package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		pterm.DisableColor()
	}
}

func printSuccess(w io.Writer, message string) {
	fmt.Fprintln(w, pterm.FgGreen.Sprint("✓")+" "+message)
}

func printError(w io.Writer, message string) {
	fmt.Fprintln(w, pterm.FgRed.Sprint("✗")+" "+message)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(title))
	fmt.Fprintln(w, pterm.FgGray.Sprint(strings.Repeat("─", 40)))
}

func printField(w io.Writer, name string, value interface{}) {
	fmt.Fprintf(w, "%s %v\n", pterm.FgLightCyan.Sprintf("%-12s", name+":"), value)
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	data := pterm.TableData{headers}
	data = append(data, rows...)
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out)
	return nil
}
