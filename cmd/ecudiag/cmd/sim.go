package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/ecusim"
	"github.com/roffe/ecudiag/pkg/isotp"
)

func init() {
	rootCmd.AddCommand(simCmd)
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "serve a simulated ECU on the bus",
	Long: "Answers diagnostic requests on the bus through the selected adapter,\n" +
		"so other tools have something to talk to. The ECU listens on --send-id\n" +
		"and replies on --recv-id, mirroring what a tester on the same bus uses.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		send, recv, err := flagIDs(cmd)
		if err != nil {
			return err
		}
		dialect, _ := cmd.Flags().GetString(flagDialect)
		if dialect == "auto" {
			dialect = "uds"
		}
		ecu, err := ecusim.NewBench(dialect, ecusim.WithLogger(log.StandardLogger()))
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString(flagAdapter)
		cfg, err := adapterConfig(cmd, send)
		if err != nil {
			return err
		}
		dev, err := ecudiag.NewAdapter(name, cfg)
		if err != nil {
			return err
		}
		tp, err := isotp.New(dev, isotp.WithLogger(log.StandardLogger()))
		if err != nil {
			return err
		}
		// mirrored addressing, replies go out on the id a tester reads
		if err := tp.SetIDs(recv, send); err != nil {
			return err
		}
		if err := tp.Open(cmd.Context()); err != nil {
			return err
		}
		defer tp.Close()

		log.Infof("serving a simulated %s ECU, rx 0x%03X tx 0x%03X", dialect, send, recv)
		return ecusim.Serve(cmd.Context(), ecu, tp, recv)
	},
}
