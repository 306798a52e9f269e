package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
)

func init() {
	rootCmd.AddCommand(rawCmd)
}

var rawCmd = &cobra.Command{
	Use:   "raw <service> [data]...",
	Short: "send a raw service request",
	Long: "Sends the given hex bytes as one request and prints the reply.\n" +
		"Arguments are concatenated, so \"raw 22 f190\" and \"raw 22f190\" send the same thing.",
	Example: "  ecudiag raw 22 f190\n  ecudiag raw 3101 0203",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseHexArgs(args)
		if err != nil {
			return err
		}
		srv, err := openServer(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		resp, err := srv.ExecuteCommand(payload[0], payload[1:]...)
		if err != nil {
			return err
		}
		fmt.Printf("%02X % X\n", resp.Service+0x40, resp.Data)
		return nil
	},
}

func parseHexArgs(args []string) ([]byte, error) {
	var payload []byte
	for _, arg := range args {
		arg = strings.TrimPrefix(arg, "0x")
		if len(arg)%2 != 0 {
			return nil, fmt.Errorf("odd length hex %q: %w", arg, ecudiag.ErrInvalidParameter)
		}
		data, err := hex.DecodeString(arg)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", arg, ecudiag.ErrInvalidParameter)
		}
		payload = append(payload, data...)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty request: %w", ecudiag.ErrInvalidParameter)
	}
	return payload, nil
}
