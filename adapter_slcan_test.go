package ecudiag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roffe/ecudiag"
)

func TestSLCanCloseBeforeOpen(t *testing.T) {
	dev, err := ecudiag.NewAdapter("SLCan", &ecudiag.AdapterConfig{
		Port:         "COM99",
		PortBaudrate: 115200,
	})
	require.NoError(t, err)

	// the serial port only exists after Open succeeded
	assert.NoError(t, dev.Close())
	assert.NoError(t, dev.Close())
}
