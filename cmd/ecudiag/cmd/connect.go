package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/dyndiag"
	"github.com/roffe/ecudiag/pkg/isotp"
)

const connectAttemptDelay = 200 * time.Millisecond

func parseCANID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad CAN identifier %q: %w", s, ecudiag.ErrInvalidParameter)
	}
	return uint32(id), nil
}

func flagIDs(cmd *cobra.Command) (send, recv uint32, err error) {
	rawSend, _ := cmd.Flags().GetString(flagSendID)
	if send, err = parseCANID(rawSend); err != nil {
		return 0, 0, err
	}
	rawRecv, _ := cmd.Flags().GetString(flagRecvID)
	if recv, err = parseCANID(rawRecv); err != nil {
		return 0, 0, err
	}
	return send, recv, nil
}

// adapterConfig builds the adapter configuration from the persistent
// flags. The sim adapter picks dialect and addressing out of
// AdditionalConfig, hardware adapters ignore it.
func adapterConfig(cmd *cobra.Command, filters ...uint32) (*ecudiag.AdapterConfig, error) {
	port, _ := cmd.Flags().GetString(flagPort)
	baudrate, _ := cmd.Flags().GetInt(flagBaudrate)
	canRate, _ := cmd.Flags().GetFloat64(flagCANRate)
	debug, _ := cmd.Flags().GetBool(flagDebug)
	dialect, _ := cmd.Flags().GetString(flagDialect)
	send, recv, err := flagIDs(cmd)
	if err != nil {
		return nil, err
	}
	if dialect == "auto" {
		dialect = "" // the sim boots as UDS unless told otherwise
	}
	return &ecudiag.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		CANRate:      canRate,
		CANFilter:    filters,
		AdditionalConfig: map[string]string{
			"dialect": dialect,
			"rx":      fmt.Sprintf("0x%X", send),
			"tx":      fmt.Sprintf("0x%X", recv),
		},
	}, nil
}

// openAdapter brings the selected adapter up at frame level.
func openAdapter(ctx context.Context, cmd *cobra.Command, filters ...uint32) (ecudiag.Adapter, error) {
	name, _ := cmd.Flags().GetString(flagAdapter)
	cfg, err := adapterConfig(cmd, filters...)
	if err != nil {
		return nil, err
	}
	dev, err := ecudiag.NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	if err := dev.Open(ctx); err != nil {
		return nil, err
	}
	return dev, nil
}

// openServer connects a diagnostic server to the ECU named by the
// persistent flags. With --dialect auto the dialect is probed, wiring
// the session dance into the connect. Stop the returned server to tear
// the whole stack down.
func openServer(ctx context.Context, cmd *cobra.Command) (*ecudiag.Server, error) {
	name, _ := cmd.Flags().GetString(flagAdapter)
	send, recv, err := flagIDs(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := adapterConfig(cmd, recv)
	if err != nil {
		return nil, err
	}
	dev, err := ecudiag.NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	tp, err := isotp.New(dev, isotp.WithLogger(log.StandardLogger()))
	if err != nil {
		return nil, err
	}

	dialect, _ := cmd.Flags().GetString(flagDialect)
	if dialect == "auto" {
		return dyndiag.Probe(ctx, tp, dyndiag.Options{
			SendID: send,
			RecvID: recv,
			Logger: log.StandardLogger(),
		})
	}

	proto, err := dyndiag.Dialect(dialect)
	if err != nil {
		return nil, err
	}
	srv, err := ecudiag.NewServer(proto, tp, ecudiag.DiagServerOptions{
		SendID: send,
		RecvID: recv,
		Logger: log.StandardLogger(),
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	// make sure something answers before the command proceeds
	err = retry.Do(
		func() error {
			_, err := srv.Execute(proto.TesterPresent(true))
			return err
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(connectAttemptDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		srv.Stop()
		return nil, fmt.Errorf("no answer from 0x%03X: %w", send, err)
	}
	return srv, nil
}
