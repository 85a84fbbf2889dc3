// GPIO sink, grounded on periph.io/x/periph's gpio/gpioreg packages (the
// google-periph example repository itself): host.Init() loads every
// platform driver, then gpioreg.ByName resolves a pin by its BCM/GPIOn
// name for direct digital output.
package outputs

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

var hostInitOnce sync.Once
var hostInitErr error

func ensureHostInit() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// GPIO drives a single digital output pin.
type GPIO struct {
	name string
	pin  gpio.PinIO
}

func newGPIO(name string, pinNumber int) (*GPIO, error) {
	if err := ensureHostInit(); err != nil {
		return nil, errors.Wrapf(err, "output %q: init gpio host", name)
	}
	pin := gpioreg.ByName("GPIO" + strconv.Itoa(pinNumber))
	if pin == nil {
		return nil, errors.Errorf("output %q: no such gpio pin %d", name, pinNumber)
	}
	return &GPIO{name: name, pin: pin}, nil
}

// Name implements Sink.
func (g *GPIO) Name() string { return g.name }

// On implements Sink.
func (g *GPIO) On() error {
	if err := g.pin.Out(gpio.High); err != nil {
		return errors.Wrapf(err, "output %q: set high", g.name)
	}
	return nil
}

// Off implements Sink.
func (g *GPIO) Off() error {
	if err := g.pin.Out(gpio.Low); err != nil {
		return errors.Wrapf(err, "output %q: set low", g.name)
	}
	return nil
}
