package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/kwp2000"
	"github.com/roffe/ecudiag/pkg/obd2"
	"github.com/roffe/ecudiag/pkg/uds"
)

func init() {
	rootCmd.AddCommand(identCmd)
}

var identCmd = &cobra.Command{
	Use:   "ident",
	Short: "read the ECU identification",
	Long:  "Sweeps the identification records of the connected ECU and prints whatever it is fitted with.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := openServer(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		switch srv.Protocol().Name() {
		case "UDS":
			return udsIdent(srv)
		case "KWP2000":
			return kwpIdent(srv)
		case "OBD2":
			return obdIdent(srv)
		}
		return ecudiag.ErrNotSupported
	},
}

func udsIdent(srv *ecudiag.Server) error {
	client := uds.NewClient(srv)
	for _, did := range uds.IdentificationDIDs() {
		data, err := client.ReadDataByIdentifier(did)
		if err != nil {
			if notFitted(err) {
				continue
			}
			return err
		}
		if printable(data) {
			fmt.Printf("%-30s %s\n", uds.DIDName(did), data)
		} else {
			fmt.Printf("%-30s % X\n", uds.DIDName(did), data)
		}
	}
	return nil
}

func kwpIdent(srv *ecudiag.Server) error {
	client := kwp2000.NewClient(srv)
	if id, err := client.ReadDaimlerIdentification(); err == nil {
		fmt.Printf("%-30s %s\n", "Identification", id)
	} else if !notFitted(err) {
		return err
	}
	if id, err := client.ReadMMCIdentification(); err == nil {
		fmt.Printf("%-30s %s\n", "MMCIdentification", id)
	} else if !notFitted(err) {
		return err
	}
	if vin, err := client.ReadCurrentVIN(); err == nil {
		fmt.Printf("%-30s %s\n", "VIN", vin)
	} else if !notFitted(err) {
		return err
	}
	if code, err := client.ReadDiagnosticVariantCode(); err == nil {
		fmt.Printf("%-30s 0x%08X\n", "DiagnosticVariantCode", code)
	} else if !notFitted(err) {
		return err
	}
	if id, err := client.ReadCalibrationID(); err == nil {
		fmt.Printf("%-30s %s\n", "CalibrationID", id)
	} else if !notFitted(err) {
		return err
	}
	if cvn, err := client.ReadCVN(); err == nil {
		fmt.Printf("%-30s % X\n", "CVN", cvn)
	} else if !notFitted(err) {
		return err
	}
	return nil
}

func obdIdent(srv *ecudiag.Server) error {
	client := obd2.NewClient(srv)
	if vin, err := client.VIN(); err == nil {
		fmt.Printf("%-30s %s\n", "VIN", vin)
	} else if !notFitted(err) {
		return err
	}
	ids, err := client.CalibrationIDs()
	if err != nil && !notFitted(err) {
		return err
	}
	for _, id := range ids {
		fmt.Printf("%-30s %s\n", "CalibrationID", id)
	}
	cvns, err := client.CVNs()
	if err != nil && !notFitted(err) {
		return err
	}
	for _, cvn := range cvns {
		fmt.Printf("%-30s %s\n", "CVN", cvn)
	}
	return nil
}

// notFitted reports whether the ECU rejected the request outright,
// which for identification reads just means the record is not there.
func notFitted(err error) bool {
	var ecuErr *ecudiag.ECUError
	return errors.As(err, &ecuErr)
}

func printable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}
