package pigpio

// Daemon command codes. The enumeration is fixed by the pigpiod socket
// interface; callers outside this package use the typed facade methods on
// Client, never raw codes.
const (
	cmdModeSet uint32 = 0  // MODES: set GPIO mode
	cmdModeGet uint32 = 1  // MODEG: get GPIO mode
	cmdPUD     uint32 = 2  // PUD: set pull-up/down
	cmdRead    uint32 = 3  // READ: read GPIO level
	cmdWrite   uint32 = 4  // WRITE: write GPIO level
	cmdWDOG    uint32 = 9  // WDOG: set GPIO watchdog
	cmdBR1     uint32 = 10 // BR1: read levels of bank 1 (GPIO 0-31)
	cmdBR2     uint32 = 11 // BR2: read levels of bank 2
	cmdTick    uint32 = 16 // TICK: current daemon tick
	cmdHWVer   uint32 = 17 // HWVER: hardware revision
	cmdNB      uint32 = 19 // NB: begin notifications for a bitmask
	cmdNP      uint32 = 20 // NP: pause notifications
	cmdNC      uint32 = 21 // NC: close a notification handle

	cmdTrigger uint32 = 37 // TRIG: pulse a GPIO (extended: level word)

	cmdSPIOpen  uint32 = 71 // SPIO: open SPI channel (extended: flags word)
	cmdSPIClose uint32 = 72 // SPIC
	cmdSPIRead  uint32 = 73 // SPIR: response followed by data bytes
	cmdSPIWrite uint32 = 74 // SPIW: extended: raw data bytes
	cmdSPIXfer  uint32 = 75 // SPIX: extended write, response carries read bytes

	cmdSerialOpen      uint32 = 76 // SERO: extended: device path bytes
	cmdSerialClose     uint32 = 77 // SERC
	cmdSerialRead      uint32 = 80 // SERR: response followed by data bytes
	cmdSerialWrite     uint32 = 81 // SERW: extended: raw data bytes
	cmdSerialDataAvail uint32 = 82 // SERDA

	cmdNOIB uint32 = 99 // NOIB: open notifications on this socket
)

// GPIO modes as understood by the daemon.
const (
	ModeInput  uint32 = 0
	ModeOutput uint32 = 1
	ModeAlt5   uint32 = 2
	ModeAlt4   uint32 = 3
	ModeAlt0   uint32 = 4
	ModeAlt1   uint32 = 5
	ModeAlt2   uint32 = 6
	ModeAlt3   uint32 = 7
)

// Pull-up/down settings.
const (
	PullOff  uint32 = 0
	PullDown uint32 = 1
	PullUp   uint32 = 2
)

// Level is a GPIO digital level as delivered to edge handlers.
type Level uint8

const (
	// LevelLow is a falling edge or low level.
	LevelLow Level = 0

	// LevelHigh is a rising edge or high level.
	LevelHigh Level = 1

	// LevelWatchdog marks a watchdog timeout event rather than an edge.
	// The daemon emits one when a watched GPIO sees no edge within its
	// configured window; sampling loops rely on these to bound waits.
	LevelWatchdog Level = 2
)

// bank1GPIOs is the number of GPIOs covered by the notification bitmask.
const bank1GPIOs = 32

// validGPIO reports whether gpio is within the bank-1 notification range.
func validGPIO(gpio uint) bool {
	return gpio < bank1GPIOs
}
