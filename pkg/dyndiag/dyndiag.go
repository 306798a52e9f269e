// Package dyndiag figures out which diagnostic dialect an unknown ECU
// speaks and hands back a ready diagnostic server for it. KWP2000 is
// probed before UDS since UDS capable ECUs commonly understand both
// while the reverse is never true.
package dyndiag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/kwp2000"
	"github.com/roffe/ecudiag/pkg/obd2"
	"github.com/roffe/ecudiag/pkg/uds"
)

const (
	// DefaultTimeout bounds each probe exchange.
	DefaultTimeout = 1500 * time.Millisecond
	// DefaultAttempts is how often a silent dialect is tried before
	// moving on.
	DefaultAttempts   = 2
	probeAttemptDelay = 200 * time.Millisecond
)

// Options configures the probe and the returned server.
type Options struct {
	// SendID is the identifier the ECU listens on, RecvID the one it
	// answers from.
	SendID uint32
	RecvID uint32
	// Timeout bounds each probe exchange and becomes the read and
	// write timeout of the returned server. Zero picks 1500ms.
	Timeout time.Duration
	// Attempts is the number of tries per dialect when the ECU stays
	// silent. Zero picks 2.
	Attempts uint
	// IsoTP overrides the transport settings applied to the channel.
	IsoTP *ecudiag.IsoTPSettings
	// TesterPresentInterval is carried into the returned server.
	TesterPresentInterval time.Duration
	// Logger receives probe logging. nil uses the logrus standard
	// logger.
	Logger *logrus.Logger
}

// Dialect returns the codec for a dialect name. Known names are uds,
// kwp2000 and obd2.
func Dialect(name string) (ecudiag.Protocol, error) {
	switch strings.ToLower(name) {
	case "uds", "iso14229":
		return uds.NewCodec(), nil
	case "kwp2000", "kwp", "iso14230":
		return kwp2000.NewCodec(), nil
	case "obd2", "obd", "j1979":
		return obd2.NewCodec(), nil
	}
	return nil, fmt.Errorf("unknown dialect %q: %w", name, ecudiag.ErrInvalidParameter)
}

// Probe finds the dialect of the ECU behind ch by entering and leaving
// a diagnostic session per candidate, KWP2000 first, then UDS. On
// success the ECU sits in its basic session again and the returned
// server is started and ready. When no candidate answers the joined
// probe errors are returned.
func Probe(ctx context.Context, ch ecudiag.IsoTPChannel, opts Options) (*ecudiag.Server, error) {
	if ch == nil {
		return nil, fmt.Errorf("nil channel: %w", ecudiag.ErrInvalidParameter)
	}
	if opts.SendID == 0 || opts.RecvID == 0 {
		return nil, fmt.Errorf("send and receive ids must be set: %w", ecudiag.ErrInvalidParameter)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	cfg := ecudiag.DefaultIsoTPSettings()
	if opts.IsoTP != nil {
		cfg = *opts.IsoTP
	}
	if err := ch.SetIsoTPConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure channel: %w", err)
	}
	if err := ch.SetIDs(opts.SendID, opts.RecvID); err != nil {
		return nil, err
	}
	if err := ch.Open(ctx); err != nil {
		return nil, err
	}

	candidates := []struct {
		proto ecudiag.Protocol
		probe ecudiag.SessionMode
	}{
		{kwp2000.NewCodec(), kwp2000.SessionExtendedDiagnostics},
		{uds.NewCodec(), uds.SessionExtended},
	}

	var probeErrs []error
	for _, cand := range candidates {
		log.Debugf("[PROBE] trying %s on 0x%03X", cand.proto.Name(), opts.SendID)
		err := retry.Do(
			func() error { return tryEnter(cand.proto, ch, opts.SendID, cand.probe, opts.Timeout) },
			retry.Context(ctx),
			retry.Attempts(opts.Attempts),
			retry.DelayType(retry.FixedDelay),
			retry.Delay(probeAttemptDelay),
			retry.LastErrorOnly(true),
			// only silence is retried, any decoded answer settles it
			retry.RetryIf(func(err error) bool { return errors.Is(err, ecudiag.ErrTimeout) }),
			retry.OnRetry(func(n uint, err error) {
				log.Debugf("[PROBE] %s silent on attempt %d: %v", cand.proto.Name(), n+1, err)
			}),
		)
		if err != nil {
			log.Debugf("[PROBE] %s ruled out: %v", cand.proto.Name(), err)
			probeErrs = append(probeErrs, fmt.Errorf("%s: %w", cand.proto.Name(), err))
			continue
		}
		if err := tryEnter(cand.proto, ch, opts.SendID, cand.proto.BasicSessionMode(), opts.Timeout); err != nil {
			log.Warnf("[PROBE] %s found but session revert failed: %v", cand.proto.Name(), err)
		}
		log.Infof("[PROBE] ECU 0x%03X speaks %s", opts.SendID, cand.proto.Name())

		srv, err := ecudiag.NewServer(cand.proto, ch, ecudiag.DiagServerOptions{
			SendID:                opts.SendID,
			RecvID:                opts.RecvID,
			ReadTimeout:           opts.Timeout,
			WriteTimeout:          opts.Timeout,
			TesterPresentInterval: opts.TesterPresentInterval,
			IsoTP:                 opts.IsoTP,
			Logger:                opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		return srv, nil
	}
	return nil, fmt.Errorf("no dialect answered on 0x%03X: %w", opts.SendID, errors.Join(probeErrs...))
}

// tryEnter performs one raw session control exchange without a server,
// the channel stays open for the next candidate.
func tryEnter(proto ecudiag.Protocol, ch ecudiag.IsoTPChannel, addr uint32, mode ecudiag.SessionMode, timeout time.Duration) error {
	req, err := proto.SessionEnter(mode)
	if err != nil {
		return err
	}
	if err := ch.ClearRx(); err != nil {
		return err
	}
	if err := ch.WriteBytes(addr, req.Bytes(), timeout); err != nil {
		return err
	}
	raw, err := ch.ReadBytes(timeout)
	if err != nil {
		return err
	}
	_, err = proto.ProcessResponse(req, raw)
	return err
}
