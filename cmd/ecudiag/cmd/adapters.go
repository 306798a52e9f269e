package cmd

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list the registered adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			for _, info := range ecudiag.ListAdapters() {
				fmt.Println(info.String())
			}
			return nil
		}
		prompt := promptui.Select{
			Label:    "Registered adapters",
			HideHelp: true,
			Items:    ecudiag.ListAdapterNames(),
		}
		_, name, err := prompt.Run()
		if err != nil {
			return err
		}
		info, _ := ecudiag.GetAdapterInfo(name)
		fmt.Println(info.String())
		fmt.Println(info.Capabilities.String())
		return nil
	},
}
