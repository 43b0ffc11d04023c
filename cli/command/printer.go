// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"github.com/spf13/cobra"
	"github.com/thediveo/klo"
)

// Builtin custom-columns templates
const (
	// HostListTemplate defines the custom columns when listing hosts.
	HostListTemplate = "ID:{.ID},NAME:{.Name},ADDRESS:{.SSHAddress},PORT:{.SSHPort}"
	// HostWideListTemplate additionally shows user names and descriptions.
	HostWideListTemplate = "ID:{.ID},NAME:{.Name},ADDRESS:{.SSHAddress},PORT:{.SSHPort},USER:{.Username},DESCRIPTION:{.Description}"

	// TaskListTemplate defines the custom columns when listing tasks.
	TaskListTemplate = "ID:{.ID},TYPE:{.Type},ALIVE:{.IsAlive},HOST:{.HostID}"
	// TaskWideListTemplate additionally shows task names, output files and
	// errors.
	TaskWideListTemplate = "ID:{.ID},TYPE:{.Type},ALIVE:{.IsAlive},HOST:{.HostID},NAME:{.Name},OUTPUT:{.Output},ERROR:{.ErrorMsg}"

	// NameListTemplate for handling "-o name" and only showing a custom "name"
	// column; this template should be used with no headers shown, as kubectl
	// and others do.
	NameListTemplate = "NAME:{.Name}"
)

// addPrinterFlags adds the output format flags to a command printing lists.
func addPrinterFlags(cmd *cobra.Command, sortBy string) {
	cmd.Flags().StringP("output", "o", "",
		"Output format. One of: name|json|yaml|wide|custom-columns=...|custom-columns-file=...|jsonpath=...|jsonpath-file=...")
	cmd.Flags().Bool("no-headers", false, "When using the default or custom-column output format, don't print headers (default print headers).")
	if sortBy != "" {
		cmd.Flags().String("sort-by", sortBy,
			"If non-empty, sort custom-columns using this field specification. The field specification is expressed as a JSONPath expression (e.g. '{.Name}').")
	}
}

// getPrinter returns a value printer configured according to the output format
// chosen by the user, and some more optional output configuration flags.
func getPrinter(cmd *cobra.Command, specs *klo.Specs) (prn klo.ValuePrinter, err error) {
	outfmt, err := cmd.Flags().GetString("output")
	if err != nil {
		return
	}
	if outfmt == "name" {
		prn, err = klo.PrinterFromFlag("custom-columns="+NameListTemplate, nil)
		if err != nil {
			return
		}
		prn.(*klo.CustomColumnsPrinter).HideHeaders = true
	} else {
		prn, err = klo.PrinterFromFlag(outfmt, specs)
		if err != nil {
			return
		}
		if ccprn, ok := prn.(*klo.CustomColumnsPrinter); ok {
			ccprn.Padding = 3
			if noheaders, err := cmd.Flags().GetBool("no-headers"); err == nil {
				ccprn.HideHeaders = noheaders
			}
		}
	}
	// ...throwing in sorting, if not explicitly forbidden. Only tabular output
	// gets sorted, as the sorting printer hands the json and yaml printers
	// reflected row values these printers cannot serialize.
	if _, ok := prn.(*klo.CustomColumnsPrinter); !ok {
		return
	}
	if sortby, serr := cmd.Flags().GetString("sort-by"); serr == nil && sortby != "" {
		prn, err = klo.NewSortingPrinter(sortby, prn)
	}
	return
}

// printValue prints the value v using the output format chosen by the user.
func printValue(cmd *cobra.Command, specs *klo.Specs, v interface{}) error {
	prn, err := getPrinter(cmd, specs)
	if err != nil {
		return err
	}
	return prn.Fprint(cmd.OutOrStdout(), v)
}
