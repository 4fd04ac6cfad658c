package interactive

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TripleSpeeder/frame/pkg/registry"
	"github.com/TripleSpeeder/frame/pkg/session"
	"github.com/TripleSpeeder/frame/pkg/simdevice"
)

// syncBuffer is written from session callbacks and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

const firstAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"

func newTestConsole(t *testing.T) (*Console, *syncBuffer, *simdevice.Device) {
	t.Helper()
	dev, err := simdevice.New(simdevice.DefaultMnemonic, "")
	require.NoError(t, err)
	provider := simdevice.NewProvider()
	provider.Add("sim://0", dev)

	cfg := registry.DefaultConfig()
	cfg.Session.Provider = provider
	cfg.Session.AppFactory = simdevice.NewApp
	cfg.Session.OKPollInterval = time.Hour
	reg, err := registry.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	require.NoError(t, reg.DeviceAdded(context.Background(), "sim://0"))
	require.Eventually(t, func() bool {
		s, ok := reg.Session("sim://0")
		return ok && s.Status() == session.StatusOK && len(s.Addresses()) == 5
	}, 3*time.Second, 5*time.Millisecond)

	out := &syncBuffer{}
	return &Console{reg: reg, provider: provider, out: out, current: "sim://0"}, out, dev
}

func TestConsoleStatusAndAddresses(t *testing.T) {
	c, out, _ := newTestConsole(t)
	ctx := context.Background()

	assert.True(t, c.Exec(ctx, "status"))
	assert.Contains(t, out.String(), "Status:      OK")
	assert.Contains(t, out.String(), "Derivation:  live")
	assert.Contains(t, out.String(), "Accounts:    5 of 5")

	out.Reset()
	c.Exec(ctx, "addresses")
	assert.Contains(t, out.String(), firstAddress)
	assert.Equal(t, 5, strings.Count(out.String(), "0x"))

	out.Reset()
	c.Exec(ctx, "devices")
	assert.Contains(t, out.String(), "* sim://0")
	assert.Contains(t, out.String(), "attached")
}

func TestConsoleDeriveAndLimit(t *testing.T) {
	c, out, _ := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "limit 3")
	assert.Contains(t, out.String(), "Account limit set to 3")
	c.Exec(ctx, "derive standard")
	assert.Contains(t, out.String(), "Deriving standard addresses")

	s, ok := c.reg.Session("sim://0")
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		return s.Status() == session.StatusOK && len(s.Addresses()) == 3
	}, 3*time.Second, 5*time.Millisecond)

	out.Reset()
	c.Exec(ctx, "derive sideways")
	assert.Contains(t, out.String(), "Error:")
	c.Exec(ctx, "limit many")
	assert.Contains(t, out.String(), "Invalid number: many")
}

func TestConsoleSign(t *testing.T) {
	c, out, _ := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "sign 0 hello world")
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "sign 0: 0x")
	}, 3*time.Second, 5*time.Millisecond)

	c.Exec(ctx, "signtx 0 0x000000000000000000000000000000000000dEaD 1000 5")
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "(type 2) from "+firstAddress)
	}, 3*time.Second, 5*time.Millisecond)

	c.Exec(ctx, "signtx 0 nowhere 1")
	assert.Contains(t, out.String(), "Invalid address: nowhere")
}

func TestConsoleVerify(t *testing.T) {
	c, out, _ := newTestConsole(t)

	c.Exec(context.Background(), "verify 0 "+strings.ToLower(firstAddress))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "verify 0: address confirmed")
	}, 3*time.Second, 5*time.Millisecond)
}

func TestConsoleLockAndPlug(t *testing.T) {
	c, out, dev := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "lock")
	assert.Contains(t, out.String(), "sim://0: locked")
	c.Exec(ctx, "check")

	s, _ := c.reg.Session("sim://0")
	assert.Eventually(t, func() bool { return s.Status() == session.StatusLocked }, 3*time.Second, 5*time.Millisecond)

	c.Exec(ctx, "unlock")
	c.Exec(ctx, "unplug")
	assert.Contains(t, out.String(), "sim://0: unplugged")
	assert.False(t, dev.Attached())
	assert.True(t, s.IsClosed())

	out.Reset()
	c.Exec(ctx, "status")
	assert.Contains(t, out.String(), "No open session for sim://0")

	c.Exec(ctx, "plug")
	assert.Contains(t, out.String(), "sim://0: plugged")
	assert.True(t, dev.Attached())
}

func TestConsoleUseAndUnknown(t *testing.T) {
	c, out, _ := newTestConsole(t)
	ctx := context.Background()

	c.Exec(ctx, "use sim://9")
	assert.Contains(t, out.String(), "Unknown device: sim://9")
	c.Exec(ctx, "frobnicate")
	assert.Contains(t, out.String(), "Unknown command: frobnicate")
	assert.True(t, c.Exec(ctx, "   "))
	assert.False(t, c.Exec(ctx, "quit"))
}
