// Package interactive provides the interactive command-line interface for
// signer-session.
package interactive

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/session"
	"github.com/TripleSpeeder/frame/pkg/simdevice"
)

// Registry is the part of the session registry the console drives.
type Registry interface {
	Paths() []string
	Session(path string) (*session.Session, bool)
	DeviceAdded(ctx context.Context, path string) error
	DeviceRemoved(path string) error
}

// Console handles interactive mode for signer-session.
type Console struct {
	reg      Registry
	provider *simdevice.Provider
	rl       *readline.Instance
	out      io.Writer

	mu      sync.Mutex
	current string
}

// New creates a console over the simulated devices of provider. reg may be
// nil and set later with SetRegistry.
func New(reg Registry, provider *simdevice.Provider) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "signer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{
		reg:      reg,
		provider: provider,
		rl:       rl,
		out:      rl.Stdout(),
	}
	if paths := provider.Paths(); len(paths) > 0 {
		c.current = paths[0]
	}
	return c, nil
}

// SetRegistry sets the registry the console drives. It must be called
// before Run.
func (c *Console) SetRegistry(reg Registry) {
	c.reg = reg
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "devices", "ls":
		c.cmdDevices()
	case "use":
		c.cmdUse(args)
	case "status", "s":
		c.cmdStatus()
	case "addresses", "a":
		c.cmdAddresses()
	case "derive":
		c.cmdDerive(args)
	case "limit":
		c.cmdLimit(args)
	case "verify":
		c.cmdVerify(args)
	case "sign":
		c.cmdSign(args)
	case "signtx":
		c.cmdSignTx(args)
	case "lock":
		c.withDevice(func(d *simdevice.Device) { d.Lock() }, "locked")
	case "unlock":
		c.withDevice(func(d *simdevice.Device) { d.Unlock() }, "unlocked")
	case "closeapp":
		c.withDevice(func(d *simdevice.Device) { d.CloseApp() }, "app closed")
	case "openapp":
		c.withDevice(func(d *simdevice.Device) { d.OpenApp() }, "app opened")
	case "check":
		c.cmdCheck()
	case "unplug":
		c.cmdUnplug()
	case "plug":
		c.cmdPlug(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Signer Session Commands:
  Devices:
    devices              - List simulated devices
    use <path>           - Select the device for following commands

  Session:
    status               - Show session status
    addresses            - List derived addresses
    derive <kind>        - Switch derivation (live, legacy, standard)
    limit <n>            - Set the number of derived addresses
    verify <i> <addr>    - Verify an address on the device
    sign <i> <text>      - Sign a personal message
    signtx <i> <to> <wei> [chain-id]
                         - Sign a dynamic fee transaction
    check                - Probe the device now

  Simulation:
    lock / unlock        - Lock or unlock the device
    closeapp / openapp   - Close or open the signing app
    unplug / plug        - Detach or attach the device

  General:
    help                 - Show this help
    quit                 - Exit`)
}

func (c *Console) currentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// session returns the live session of the selected device or prints why
// there is none.
func (c *Console) session() *session.Session {
	path := c.currentPath()
	s, ok := c.reg.Session(path)
	if !ok || s.IsClosed() {
		fmt.Fprintf(c.out, "No open session for %s\n", path)
		return nil
	}
	return s
}

func (c *Console) withDevice(fn func(d *simdevice.Device), done string) {
	path := c.currentPath()
	d := c.provider.Device(path)
	if d == nil {
		fmt.Fprintf(c.out, "Unknown device: %s\n", path)
		return
	}
	fn(d)
	fmt.Fprintf(c.out, "%s: %s\n", path, done)
}

func (c *Console) cmdDevices() {
	current := c.currentPath()
	for _, path := range c.provider.Paths() {
		marker := " "
		if path == current {
			marker = "*"
		}
		status := "no session"
		if s, ok := c.reg.Session(path); ok {
			status = s.Status().String()
		}
		attached := "attached"
		if d := c.provider.Device(path); d != nil && !d.Attached() {
			attached = "detached"
		}
		fmt.Fprintf(c.out, "%s %-12s %-9s %s\n", marker, path, attached, status)
	}
}

func (c *Console) cmdUse(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: use <path>")
		return
	}
	if c.provider.Device(args[0]) == nil {
		fmt.Fprintf(c.out, "Unknown device: %s\n", args[0])
		return
	}
	c.mu.Lock()
	c.current = args[0]
	c.mu.Unlock()
	fmt.Fprintf(c.out, "Using %s\n", args[0])
}

func (c *Console) cmdStatus() {
	s := c.session()
	if s == nil {
		return
	}
	fmt.Fprintf(c.out, "Device:      %s\n", s.DevicePath())
	fmt.Fprintf(c.out, "Session:     %s\n", s.ID())
	fmt.Fprintf(c.out, "Status:      %s\n", s.Status())
	fmt.Fprintf(c.out, "Derivation:  %s\n", s.Derivation())
	fmt.Fprintf(c.out, "Accounts:    %d of %d\n", len(s.Accounts()), s.AccountLimit())
	fmt.Fprintf(c.out, "App version: %s\n", s.AppVersion())
}

func (c *Console) cmdAddresses() {
	s := c.session()
	if s == nil {
		return
	}
	accounts := s.Accounts()
	if len(accounts) == 0 {
		fmt.Fprintln(c.out, "No addresses")
		return
	}
	for _, a := range accounts {
		fmt.Fprintf(c.out, "  %3d  %s\n", a.Index, a.Address)
	}
}

func (c *Console) cmdDerive(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: derive <live|legacy|standard>")
		return
	}
	kind, err := derivation.ParseKind(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	s := c.session()
	if s == nil {
		return
	}
	if err := s.SetDerivation(kind); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Deriving %s addresses\n", kind)
}

func (c *Console) cmdLimit(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: limit <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid number: %s\n", args[0])
		return
	}
	s := c.session()
	if s == nil {
		return
	}
	if err := s.SetAccountLimit(n); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Account limit set to %d\n", n)
}

func (c *Console) cmdVerify(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: verify <index> <address>")
		return
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid index: %s\n", args[0])
		return
	}
	s := c.session()
	if s == nil {
		return
	}
	err = s.VerifyAddress(index, args[1], true, func(ok bool, err error) {
		if err != nil {
			fmt.Fprintf(c.out, "verify %d: %v\n", index, err)
			return
		}
		fmt.Fprintf(c.out, "verify %d: address confirmed\n", index)
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) cmdSign(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: sign <index> <text>")
		return
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid index: %s\n", args[0])
		return
	}
	s := c.session()
	if s == nil {
		return
	}
	message := strings.Join(args[1:], " ")
	err = s.SignMessage(index, []byte(message), func(sig string, err error) {
		if err != nil {
			fmt.Fprintf(c.out, "sign %d: %v\n", index, err)
			return
		}
		fmt.Fprintf(c.out, "sign %d: %s\n", index, sig)
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) cmdSignTx(args []string) {
	if len(args) < 3 || len(args) > 4 {
		fmt.Fprintln(c.out, "Usage: signtx <index> <to> <wei> [chain-id]")
		return
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid index: %s\n", args[0])
		return
	}
	if !common.IsHexAddress(args[1]) {
		fmt.Fprintf(c.out, "Invalid address: %s\n", args[1])
		return
	}
	value, ok := new(big.Int).SetString(args[2], 10)
	if !ok {
		fmt.Fprintf(c.out, "Invalid amount: %s\n", args[2])
		return
	}
	chainID := big.NewInt(1)
	if len(args) == 4 {
		if _, ok := chainID.SetString(args[3], 10); !ok {
			fmt.Fprintf(c.out, "Invalid chain id: %s\n", args[3])
			return
		}
	}
	s := c.session()
	if s == nil {
		return
	}

	to := common.HexToAddress(args[1])
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Gas:       21000,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		To:        &to,
		Value:     value,
	})
	err = s.SignTransaction(index, tx, chainID, func(signed *types.Transaction, err error) {
		if err != nil {
			fmt.Fprintf(c.out, "signtx %d: %v\n", index, err)
			return
		}
		from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		if err != nil {
			fmt.Fprintf(c.out, "signtx %d: %v\n", index, err)
			return
		}
		fmt.Fprintf(c.out, "signtx %d: %s (type %d) from %s\n", index, signed.Hash().Hex(), signed.Type(), from.Hex())
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) cmdCheck() {
	s := c.session()
	if s == nil {
		return
	}
	if err := s.CheckDeviceStatus(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) cmdUnplug() {
	path := c.currentPath()
	d := c.provider.Device(path)
	if d == nil {
		fmt.Fprintf(c.out, "Unknown device: %s\n", path)
		return
	}
	d.Disconnect()
	if err := c.reg.DeviceRemoved(path); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s: unplugged\n", path)
}

func (c *Console) cmdPlug(ctx context.Context) {
	path := c.currentPath()
	d := c.provider.Device(path)
	if d == nil {
		fmt.Fprintf(c.out, "Unknown device: %s\n", path)
		return
	}
	d.Attach()
	if err := c.reg.DeviceAdded(ctx, path); err != nil {
		fmt.Fprintf(c.out, "%s: plugged, connect failed: %v\n", path, err)
		return
	}
	fmt.Fprintf(c.out, "%s: plugged\n", path)
}
