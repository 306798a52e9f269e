package cmd

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dtc"
	"github.com/roffe/ecudiag/pkg/kwp2000"
	"github.com/roffe/ecudiag/pkg/obd2"
	"github.com/roffe/ecudiag/pkg/uds"
)

func init() {
	rootCmd.AddCommand(dtcCmd)
	dtcCmd.AddCommand(dtcReadCmd)
	dtcCmd.AddCommand(dtcClearCmd)
}

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "diagnostic trouble codes",
}

var dtcReadCmd = &cobra.Command{
	Use:   "read",
	Short: "read the stored trouble codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := openServer(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		codes, err := readDTCs(srv)
		if err != nil {
			return err
		}
		if len(codes) == 0 {
			fmt.Println("no stored trouble codes")
			return nil
		}
		for _, code := range codes {
			fmt.Println(code.String())
		}
		return nil
	},
}

var dtcClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "clear the stored trouble codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !yesNo("Clear all stored trouble codes") {
			return nil
		}
		srv, err := openServer(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		if err := clearDTCs(srv); err != nil {
			return err
		}
		fmt.Println("trouble codes cleared")
		return nil
	},
}

func readDTCs(srv *ecudiag.Server) ([]dtc.DTC, error) {
	switch srv.Protocol().Name() {
	case "UDS":
		return uds.NewClient(srv).ReadDTCs(0xFF)
	case "KWP2000":
		return kwp2000.NewClient(srv).ReadStoredDTCs(kwp2000.RangeAll)
	case "OBD2":
		return obd2.NewClient(srv).ReadStoredDTCs()
	}
	return nil, ecudiag.ErrNotSupported
}

func clearDTCs(srv *ecudiag.Server) error {
	switch srv.Protocol().Name() {
	case "UDS":
		return uds.NewClient(srv).ClearDTCs(uds.ClearAllDTCs)
	case "KWP2000":
		return kwp2000.NewClient(srv).ClearDTCs(kwp2000.RangeAll)
	case "OBD2":
		return obd2.NewClient(srv).ClearDTCs()
	}
	return ecudiag.ErrNotSupported
}

func yesNo(label string) bool {
	prompt := promptui.Select{
		Label:    label + " [Yes/No]",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return false
	}
	return result == "Yes"
}
