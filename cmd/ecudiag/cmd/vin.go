package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/kwp2000"
	"github.com/roffe/ecudiag/pkg/obd2"
	"github.com/roffe/ecudiag/pkg/uds"
)

func init() {
	rootCmd.AddCommand(vinCmd)
}

var vinCmd = &cobra.Command{
	Use:   "vin",
	Short: "read the vehicle identification number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := openServer(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		vin, err := readVIN(srv)
		if err != nil {
			return err
		}
		fmt.Println(vin)
		return nil
	},
}

func readVIN(srv *ecudiag.Server) (string, error) {
	switch srv.Protocol().Name() {
	case "UDS":
		return uds.NewClient(srv).VIN()
	case "KWP2000":
		client := kwp2000.NewClient(srv)
		vin, err := client.ReadCurrentVIN()
		if err != nil && notFitted(err) {
			// ECUs flashed before delivery only carry the original VIN.
			return client.ReadOriginalVIN()
		}
		return vin, err
	case "OBD2":
		return obd2.NewClient(srv).VIN()
	}
	return "", ecudiag.ErrNotSupported
}
