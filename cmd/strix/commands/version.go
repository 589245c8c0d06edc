package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strix-dfir/strix/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

var versionJSON bool

func init() {
	VersionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output version information as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	if versionJSON {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(info.String())
	return nil
}
