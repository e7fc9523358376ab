package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/parity/packages/compare"
	"github.com/abdul-hamid-achik/parity/packages/http"
)

var (
	comparePaginatedFlag   bool
	compareIgnoreFlag      string
	compareIgnoreOrderFlag bool
	compareJSONFlag        bool
	compareDiffFlag        bool
)

var compareCmd = &cobra.Command{
	Use:   "compare <response1.json> <response2.json>",
	Short: "Compare two saved responses",
	Long: `Compare two responses saved with --save-responses, or any JSON file of
the form {"status_code": 200, "body": ...} or {"status": 200, "json": ...}.

Examples:
  parity compare output/responses/collections_api1.json output/responses/collections_api2.json
  parity compare a.json b.json --paginated
  parity compare a.json b.json --ignore "data.*.updatedAt" --diff`,
	Args: cobra.ExactArgs(2),
	RunE: compareCommand,
}

func init() {
	compareCmd.Flags().BoolVar(&comparePaginatedFlag, "paginated", false, "Compare pagination metadata and data items separately")
	compareCmd.Flags().StringVar(&compareIgnoreFlag, "ignore", "", "Dotted paths to ignore (comma-separated, * matches any key)")
	compareCmd.Flags().BoolVar(&compareIgnoreOrderFlag, "ignore-order", false, "Compare arrays regardless of order")
	compareCmd.Flags().BoolVar(&compareJSONFlag, "json", false, "Print the result as JSON")
	compareCmd.Flags().BoolVar(&compareDiffFlag, "diff", false, "Show a line diff of the bodies")
}

func compareCommand(cmd *cobra.Command, args []string) error {
	a, err := loadSavedResponse(args[0])
	if err != nil {
		return parseError(err)
	}
	b, err := loadSavedResponse(args[1])
	if err != nil {
		return parseError(err)
	}

	opts := compare.Options{
		IgnorePaths:      splitList(compareIgnoreFlag),
		IgnoreArrayOrder: compareIgnoreOrderFlag,
	}
	var result compare.Result
	if comparePaginatedFlag {
		result = compare.ComparePaginated(a, b, opts)
	} else {
		result = compare.CompareObserved(a, b, opts)
	}

	out := cmd.OutOrStdout()
	if compareJSONFlag {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		if result.Equal {
			fmt.Fprintf(out, "%s Responses are equal\n", green("✓"))
		} else {
			fmt.Fprintf(out, "%s Responses differ\n", red("✗"))
			for _, d := range result.Differences {
				fmt.Fprintf(out, "  → %s\n", d)
			}
		}
		if compareDiffFlag {
			if diff := compare.TextDiff(a.JSON, b.JSON); diff != "" {
				fmt.Fprintf(out, "\nDiff (- %s, + %s):\n", args[0], args[1])
				for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
					fmt.Fprintln(out, colorDiff(line))
				}
			}
		}
	}

	if !result.Equal {
		return withCode(ExitTestFailure, nil)
	}
	return nil
}

func colorDiff(line string) string {
	switch {
	case strings.HasPrefix(line, "- "):
		return color.RedString(line)
	case strings.HasPrefix(line, "+ "):
		return color.GreenString(line)
	}
	return line
}

// loadSavedResponse reads a response file. Both the saved-response layout
// (status_code, body, error) and the comparator layout (status, json) are
// accepted.
func loadSavedResponse(path string) (compare.Observed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return compare.Observed{}, err
	}
	if !gjson.ValidBytes(data) {
		return compare.Observed{}, fmt.Errorf("%s: not valid JSON", path)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return compare.Observed{}, fmt.Errorf("%s: expected a JSON object", path)
	}

	status, body := doc.Get("status_code"), doc.Get("body")
	if !status.Exists() {
		status, body = doc.Get("status"), doc.Get("json")
	}
	if !status.Exists() || status.Type != gjson.Number {
		return compare.Observed{}, fmt.Errorf("%s: missing numeric status_code or status", path)
	}

	o := compare.Observed{
		Response: compare.Response{Status: int(status.Int())},
		Err:      doc.Get("error").String(),
	}
	if body.Exists() && body.Type != gjson.Null {
		o.JSON = http.DecodeBody([]byte(body.Raw))
	}
	return o, nil
}
