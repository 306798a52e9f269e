package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/ini.v1"
)

var rootCmd = &cobra.Command{
	Use:          "ecudiag",
	Short:        "ECU diagnostics over CAN",
	Long:         `Talk UDS, KWP2000 or OBD2 to an ECU through any registered adapter.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if debug, _ := cmd.Flags().GetBool(flagDebug); debug {
			log.SetLevel(log.DebugLevel)
		}
		return loadProfile(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

const (
	flagAdapter  = "adapter"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagCANRate  = "canrate"
	flagDialect  = "dialect"
	flagSendID   = "send-id"
	flagRecvID   = "recv-id"
	flagDebug    = "debug"
	flagProfile  = "profile"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "Sim", "adapter to use, see the adapters command")
	pf.StringP(flagPort, "p", "", "serial port")
	pf.IntP(flagBaudrate, "b", 115200, "serial port baudrate")
	pf.Float64P(flagCANRate, "c", 500, "CAN bus bit rate in kbit/s")
	pf.String(flagDialect, "auto", "diagnostic dialect: auto, uds, kwp2000 or obd2")
	pf.String(flagSendID, "0x7E0", "CAN identifier the ECU listens on")
	pf.String(flagRecvID, "0x7E8", "CAN identifier the ECU answers from")
	pf.BoolP(flagDebug, "d", false, "debug output")
	pf.String(flagProfile, "", "section of ~/.ecudiag.ini to load defaults from")
}

// loadProfile fills flag values from one section of ~/.ecudiag.ini.
// Flags given on the command line win over the profile.
func loadProfile(cmd *cobra.Command) error {
	name, err := cmd.Flags().GetString(flagProfile)
	if err != nil || name == "" {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	cfg, err := ini.Load(filepath.Join(home, ".ecudiag.ini"))
	if err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	section, err := cfg.GetSection(name)
	if err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	for _, key := range section.Keys() {
		flag := cmd.Flags().Lookup(key.Name())
		if flag == nil {
			log.Warnf("profile %s: no flag named %q", name, key.Name())
			continue
		}
		if flag.Changed {
			continue
		}
		if err := flag.Value.Set(key.Value()); err != nil {
			return fmt.Errorf("profile %s key %s: %w", name, key.Name(), err)
		}
	}
	return nil
}
