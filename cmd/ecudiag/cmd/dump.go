package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/bar"
	"github.com/roffe/ecudiag/pkg/kwp2000"
	"github.com/roffe/ecudiag/pkg/uds"
)

// dumpChunkSize keeps each read inside one KWP response, whose size
// field is a single byte.
const dumpChunkSize = 128

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().String(flagAddress, "0x000000", "start address (0x prefix for hex)")
	dumpCmd.Flags().Uint32(flagLength, 0x1000, "number of bytes to read")
	dumpCmd.Flags().String(flagOut, "dump.bin", "output file")
}

const (
	flagAddress = "address"
	flagLength  = "length"
	flagOut     = "out"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "dump ECU memory to a file",
	Long:  "Reads a region of ECU memory over the memory read service and writes it to a file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addrStr, _ := cmd.Flags().GetString(flagAddress)
		length, _ := cmd.Flags().GetUint32(flagLength)
		out, _ := cmd.Flags().GetString(flagOut)
		addr, err := strconv.ParseUint(addrStr, 0, 32)
		if err != nil {
			return fmt.Errorf("address %q: %w", addrStr, ecudiag.ErrInvalidParameter)
		}
		if length == 0 {
			return fmt.Errorf("nothing to dump: %w", ecudiag.ErrInvalidParameter)
		}

		srv, err := openServer(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer srv.Stop()

		read, err := memoryReader(srv)
		if err != nil {
			return err
		}

		b := bar.New(int(length), "dumping")
		defer func() {
			if !b.IsFinished() {
				b.Finish()
				fmt.Println()
			}
		}()

		start := time.Now()
		buf := make([]byte, 0, length)
		for uint32(len(buf)) < length {
			chunk := dumpChunkSize
			if rest := length - uint32(len(buf)); rest < uint32(chunk) {
				chunk = int(rest)
			}
			data, err := read(uint32(addr)+uint32(len(buf)), chunk)
			if err != nil {
				return err
			}
			buf = append(buf, data...)
			b.Add(len(data))
		}
		b.Finish()
		fmt.Println()

		if err := os.WriteFile(out, buf, 0644); err != nil {
			return err
		}
		log.Infof("wrote %d bytes to %s, took %s", len(buf), out, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func memoryReader(srv *ecudiag.Server) (func(addr uint32, size int) ([]byte, error), error) {
	switch srv.Protocol().Name() {
	case "UDS":
		client := uds.NewClient(srv)
		return func(addr uint32, size int) ([]byte, error) {
			return client.ReadMemoryByAddress(addr, uint16(size))
		}, nil
	case "KWP2000":
		client := kwp2000.NewClient(srv)
		return func(addr uint32, size int) ([]byte, error) {
			return client.ReadMemoryByAddress(addr, byte(size))
		}, nil
	}
	return nil, fmt.Errorf("%s has no memory read service: %w", srv.Protocol().Name(), ecudiag.ErrNotSupported)
}
