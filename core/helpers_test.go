package core

// Shared test doubles: an in-memory pin bank and a hand-advanced clock.

type fakeGPIO struct {
	levels map[GPIOPin]bool
	inputs map[GPIOPin]bool
	edges  map[GPIOPin]int
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{
		levels: make(map[GPIOPin]bool),
		inputs: make(map[GPIOPin]bool),
		edges:  make(map[GPIOPin]int),
	}
}

func (g *fakeGPIO) ConfigureOutput(GPIOPin) error { return nil }
func (g *fakeGPIO) ConfigureInput(GPIOPin) error  { return nil }

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) {
	if value && !g.levels[pin] {
		g.edges[pin]++
	}
	g.levels[pin] = value
}

func (g *fakeGPIO) ReadPin(pin GPIOPin) bool {
	return g.inputs[pin]
}

type fakeClock struct {
	ms int64
}

func (c *fakeClock) Millis() int64 { return c.ms }
func (c *fakeClock) Micros() int64 { return c.ms * 1000 }

func (c *fakeClock) advance(ms int64) { c.ms += ms }

func testPumpConfig() PumpConfig {
	return PumpConfig{
		EnablePin:       25,
		DirectionPin:    32,
		StepPin:         33,
		Dt:              0.01,
		InvertDirection: true,
		VolumePerStep:   0.0752192,
	}
}

func testValveConfig() ValveConfig {
	return ValveConfig{
		EnablePin:          14,
		DirectionPin:       26,
		StepPin:            27,
		LimitSwitchPin:     15,
		StepsPerRevolution: 1600,
		InvertDirection:    true,
		HomeOffset:         365,
		PositionMapping:    [NumValvePorts]uint8{0, 5, 4, 3, 2, 1},
	}
}

func testDeviceConfig() DeviceConfig {
	column := testValveConfig()
	column.EnablePin = 4
	column.DirectionPin = 17
	column.StepPin = 16
	column.LimitSwitchPin = 2
	column.PositionMapping = [NumValvePorts]uint8{3, 2, 1, 0, 5, 4}
	return DeviceConfig{
		Pump:         testPumpConfig(),
		ReagentValve: testValveConfig(),
		ColumnValve:  column,
	}
}

// settleValves runs both valve state machines with their limit switches
// held asserted so pending moves finish, bounded to keep a broken state
// machine from hanging the test.
func settleValves(d *Device, gpio *fakeGPIO) {
	gpio.inputs[d.ReagentValve.cfg.LimitSwitchPin] = true
	gpio.inputs[d.ColumnValve.cfg.LimitSwitchPin] = true
	for i := 0; i < 20000; i++ {
		d.ReagentValveTick()
		d.ColumnValveTick()
		if d.ReagentValve.ReachedTarget() && d.ColumnValve.ReachedTarget() {
			return
		}
	}
}
