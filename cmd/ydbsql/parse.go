package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/ydbsql-driver/query"
)

type parseFlags struct {
	file    string
	types   []string
	jsonOut bool
}

type paramView struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Declared bool   `json:"declared"`
	Position int    `json:"position"`
}

type parseView struct {
	Kind       string      `json:"kind"`
	Statements int         `json:"statements"`
	Positional bool        `json:"positional"`
	Params     []paramView `json:"params"`
	YQL        string      `json:"yql"`
}

func newParseCmd(global *globalFlags) *cobra.Command {
	flags := &parseFlags{}

	cmd := &cobra.Command{
		Use:     "parse [query]",
		Aliases: []string{"classify"},
		Short:   "Classify a query and print the YQL the driver would send",
		Long: `parse runs the driver's classifier and rewriter on one query text and prints
its execution kind, its parameters and the rendered YQL.

The text is taken from the arguments, from --file, or from stdin when
neither is given. Parameters without a DECLARE get their type at bind time;
pass --type name=Type to render the declaration the driver would generate.`,
		Example: `  ydbsql parse "select * from t where id = ?" --type jp1=Int32
  ydbsql parse --file query.yql --json
  echo "scan select * from t" | ydbsql parse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.options()
			if err != nil {
				return err
			}

			text, err := readQueryText(cmd.InOrStdin(), flags.file, args)
			if err != nil {
				return err
			}

			types, err := parseTypeFlags(flags.types)
			if err != nil {
				return err
			}

			pq, err := query.Parse(text, opts.QueryOptions())
			if err != nil {
				return err
			}

			view := newParseView(pq, types)
			if flags.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			return printParseView(cmd.OutOrStdout(), view)
		},
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Read the query from a file (- for stdin)")
	cmd.Flags().StringArrayVarP(&flags.types, "type", "t", nil, "Type of an undeclared parameter (name=Type), repeatable")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func readQueryText(stdin io.Reader, file string, args []string) (string, error) {
	var data []byte
	var err error
	switch {
	case file == "-":
		data, err = io.ReadAll(stdin)
	case file != "":
		data, err = os.ReadFile(file)
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no query text given")
	}
	return text, nil
}

// parseTypeFlags reads name=Type pairs. Names get the $ prefix when absent.
func parseTypeFlags(values []string) (map[string]*query.Type, error) {
	if len(values) == 0 {
		return nil, nil
	}
	types := make(map[string]*query.Type, len(values))
	for _, kv := range values {
		name, typeText, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --type %q, expected name=Type", kv)
		}
		t, err := query.ParseType(typeText)
		if err != nil {
			return nil, fmt.Errorf("invalid --type %q: %w", kv, err)
		}
		if !strings.HasPrefix(name, "$") {
			name = "$" + name
		}
		types[name] = t
	}
	return types, nil
}

func newParseView(pq *query.ParsedQuery, types map[string]*query.Type) parseView {
	view := parseView{
		Kind:       pq.Type().String(),
		Statements: pq.Statements(),
		Positional: pq.Positional(),
		Params:     []paramView{},
		YQL:        pq.Render(types),
	}
	for _, p := range pq.Params() {
		pv := paramView{Name: p.Name, Declared: p.Declared, Position: p.Position}
		t := p.Type
		if t == nil {
			t = types[p.Name]
		}
		if t != nil {
			pv.Type = t.String()
		}
		view.Params = append(view.Params, pv)
	}
	return view
}

func printParseView(w io.Writer, view parseView) error {
	printHeader(w, "Query")
	printField(w, "Kind", view.Kind)
	printField(w, "Statements", view.Statements)
	printField(w, "Positional", view.Positional)

	if len(view.Params) > 0 {
		printHeader(w, "Parameters")
		rows := make([][]string, len(view.Params))
		for i, p := range view.Params {
			typ := p.Type
			if typ == "" {
				typ = "(bind time)"
			}
			rows[i] = []string{strconv.Itoa(p.Position), p.Name, typ, strconv.FormatBool(p.Declared)}
		}
		if err := printTable(w, []string{"#", "Name", "Type", "Declared"}, rows); err != nil {
			return err
		}
	}

	printHeader(w, "YQL")
	fmt.Fprintln(w, view.YQL)
	fmt.Fprintln(w)
	printSuccess(w, "classified as "+view.Kind)
	return nil
}
