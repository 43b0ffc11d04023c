// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// Examples collects all examples for the specified command path from the
// registered plugins. The examples returned by plugins are always separate
// with empty lines, yet there isn't any trailing newline for the overall
// section.
func Examples(commandPath string) string {
	examples := ""
	for _, example := range plugger.Group[CommandExamples]().Symbols() {
		text := strings.TrimSuffix(example()[commandPath], "\n")
		if text == "" {
			continue
		}
		if examples != "" {
			examples += "\n\n"
		}
		examples += text
	}
	return examples
}

// SetExamples walks the command tree below root and fills in the examples
// registered for each command.
func SetExamples(root *cobra.Command) {
	setExamples(root, root)
}

func setExamples(root, parent *cobra.Command) {
	for _, cmd := range parent.Commands() {
		path := strings.TrimPrefix(cmd.CommandPath(), root.Name()+" ")
		if examples := Examples(path); examples != "" {
			cmd.Example = examples
		}
		setExamples(root, cmd)
	}
}
