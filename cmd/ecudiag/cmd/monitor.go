package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"mon"},
	Short:   "dump every frame seen on the bus",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// no filter, show everything that passes by
		dev, err := openAdapter(ctx, cmd)
		if err != nil {
			return err
		}
		defer dev.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-dev.Err():
				if err == nil {
					return nil
				}
				if !ecudiag.IsRecoverable(err) {
					return err
				}
				log.Error(err)
			case evt := <-dev.Event():
				log.Info(evt.String())
			case frame := <-dev.Recv():
				fmt.Println(frame.ColorString())
			}
		}
	},
}
