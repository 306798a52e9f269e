package cmd

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session <mode>",
	Short: "enter a diagnostic session and hold it",
	Long: `Enters the session with the given mode byte, 0x03 for the UDS extended
session or 0x92 for KWP2000 extended diagnostics, and keeps it alive
with tester present messages until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return fmt.Errorf("bad session mode %q: %w", args[0], ecudiag.ErrInvalidParameter)
		}
		srv, err := openServer(ctx, cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		mode := ecudiag.SessionMode{ID: byte(id), Name: "custom", TesterPresent: true}
		for _, m := range srv.Protocol().Sessions() {
			if m.ID == byte(id) {
				mode = m
				break
			}
		}
		if _, err := srv.EnterSession(mode); err != nil {
			return err
		}
		log.Infof("holding %s, ctrl-c to leave", mode.String())
		for {
			select {
			case <-ctx.Done():
				// hand the ECU back in its power-on session
				if _, err := srv.EnterSession(srv.Protocol().BasicSessionMode()); err != nil {
					log.Warnf("session revert failed: %v", err)
				}
				return nil
			case evt := <-srv.Events():
				log.Info(evt.String())
			}
		}
	},
}
