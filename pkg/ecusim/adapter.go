package ecusim

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/roffe/ecudiag"
	"github.com/roffe/ecudiag/pkg/isotp"
)

// Default addressing of the simulated ECU, the classic physical pair of
// an engine controller.
const (
	defaultSimRx = 0x7E0
	defaultSimTx = 0x7E8
)

func init() {
	if err := ecudiag.RegisterAdapter(&ecudiag.AdapterInfo{
		Name:               "Sim",
		Description:        "Simulated ECU on an in-process bus",
		RequiresSerialPort: false,
		Capabilities: ecudiag.AdapterCapabilities{
			ISOTP: false,
			CAN:   true,
			KLine: false,
			SWCAN: false,
		},
		New: NewSimAdapter,
	}); err != nil {
		panic(err)
	}
}

// SimAdapter is a frame level adapter backed by a simulated ECU. The
// tester side is an ordinary virtual bus end, the ECU side runs its own
// ISO-TP transport and answers on tx whatever arrives on rx. Segmented
// transfers cross the bus frame by frame, flow control included.
type SimAdapter struct {
	*ecudiag.VirtualAdapter
	bus *ecudiag.VirtualBus
	ecu *ECU

	ecuSide *isotp.Transport
	tx      uint32

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSimAdapter builds a simulated ECU and the bus it sits on. The
// dialect and addressing come from AdditionalConfig, keys "dialect"
// (uds, kwp2000 or obd2), "rx", "tx" and "vin".
func NewSimAdapter(cfg *ecudiag.AdapterConfig) (ecudiag.Adapter, error) {
	rx, err := configID(cfg, "rx", defaultSimRx)
	if err != nil {
		return nil, err
	}
	tx, err := configID(cfg, "tx", defaultSimTx)
	if err != nil {
		return nil, err
	}
	ecu, err := configECU(cfg)
	if err != nil {
		return nil, err
	}

	bus := ecudiag.NewVirtualBus()
	sa := &SimAdapter{
		VirtualAdapter: bus.Attach("Sim"),
		bus:            bus,
		ecu:            ecu,
		tx:             tx,
	}
	ecuSide, err := isotp.New(bus.Attach("Sim ECU"))
	if err != nil {
		return nil, err
	}
	if err := ecuSide.SetIDs(tx, rx); err != nil {
		return nil, err
	}
	sa.ecuSide = ecuSide
	return sa, nil
}

// ECU exposes the simulated ECU behind the adapter for scripting.
func (sa *SimAdapter) ECU() *ECU {
	return sa.ecu
}

// Open starts the frame pumps on both bus ends and the ECU serve loop.
func (sa *SimAdapter) Open(ctx context.Context) error {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if sa.cancel != nil {
		return nil
	}
	if err := sa.VirtualAdapter.Open(ctx); err != nil {
		return err
	}
	if err := sa.ecuSide.Open(ctx); err != nil {
		return err
	}
	serveCtx, cancel := context.WithCancel(ctx)
	sa.cancel = cancel
	go Serve(serveCtx, sa.ecu, sa.ecuSide, sa.tx)
	return nil
}

// Close stops the serve loop and tears the bus down.
func (sa *SimAdapter) Close() error {
	sa.mu.Lock()
	if sa.cancel != nil {
		sa.cancel()
		sa.cancel = nil
	}
	sa.mu.Unlock()
	sa.ecuSide.Close()
	sa.bus.Close()
	return nil
}

func configECU(cfg *ecudiag.AdapterConfig) (*ECU, error) {
	var opts []Option
	if vin := cfg.AdditionalConfig["vin"]; vin != "" {
		opts = append(opts, WithVIN(vin))
	}
	return NewBench(cfg.AdditionalConfig["dialect"], opts...)
}

func configID(cfg *ecudiag.AdapterConfig, key string, fallback uint32) (uint32, error) {
	raw, found := cfg.AdditionalConfig[key]
	if !found || raw == "" {
		return fallback, nil
	}
	id, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad sim %s id %q: %w", key, raw, ecudiag.ErrInvalidParameter)
	}
	return uint32(id), nil
}
