package reflector

import (
	"errors"
	"net"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// DefaultReflectorPort is the unicast port reflector servers listen on
// and clients send to unless configured otherwise.
const DefaultReflectorPort = 5354

// ackMessage is the literal a server sends back to a client over unicast
// after relaying its payload.
const ackMessage = "ok"

// Option configures a reflector Server or Client.
type Option func(*options)

type options struct {
	preset        Preset
	unicastPort   int
	reflectorPort int
	ifaceName     string
	bindIPv4      net.IP
	bindIPv6      net.IP
	broadcast     bool
	filter        *NameFilter
	endpoints     []string
	logger        log.Interface
	errorHandler  func(error)
}

func defaultOptions() options {
	return options{
		preset:        MDNS,
		unicastPort:   DefaultReflectorPort,
		reflectorPort: DefaultReflectorPort,
		logger:        log.Log,
	}
}

// WithPreset selects the multicast group set to relay; the mDNS preset
// is the default.
func WithPreset(p Preset) Option {
	return func(o *options) { o.preset = p }
}

// WithUnicastPort sets the fixed port of a server's unicast sockets.
func WithUnicastPort(port int) Option {
	return func(o *options) { o.unicastPort = port }
}

// WithReflectorPort sets the remote port a client forwards to.
func WithReflectorPort(port int) Option {
	return func(o *options) { o.reflectorPort = port }
}

// WithInterfaceName restricts all sockets to one named network
// interface; without it every multicast-capable interface is eligible.
func WithInterfaceName(name string) Option {
	return func(o *options) { o.ifaceName = name }
}

// WithBindAddresses sets explicit local bind addresses per family.
// Either may be nil to bind to all addresses of that family.
func WithBindAddresses(v4, v6 net.IP) Option {
	return func(o *options) { o.bindIPv4, o.bindIPv6 = v4, v6 }
}

// WithBroadcast additionally relays server-received payloads to the
// bound interface's derived IPv4 broadcast address.
func WithBroadcast() Option {
	return func(o *options) { o.broadcast = true }
}

// WithRecordNames installs a record-name filter: payloads whose DNS
// names match none of the given fragments are dropped before relaying.
func WithRecordNames(names ...string) Option {
	return func(o *options) { o.filter = NewNameFilter(names...) }
}

// WithReflectorEndpoints names the remote reflector hosts a client
// forwards local multicast traffic to, as IP literals or hostnames
// (e.g. a Docker host alias).
func WithReflectorEndpoints(hosts ...string) Option {
	return func(o *options) { o.endpoints = hosts }
}

// WithLogger replaces the logger; the package default is apex's
// log.Log.
func WithLogger(logger log.Interface) Option {
	return func(o *options) { o.logger = logger }
}

// WithErrorHandler registers a callback observing socket-level errors.
// Errors reaching the handler have already been logged and never stop
// the reflector's remaining sockets.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.errorHandler = fn }
}

// reflectorState tracks the idle → starting → running → stopping →
// stopped lifecycle of a reflector role.
type reflectorState int

const (
	reflectorIdle reflectorState = iota
	reflectorStarting
	reflectorRunning
	reflectorStopping
	reflectorStopped
)

// errNotIdle rejects a second Start of the same reflector instance.
var errNotIdle = errors.New("reflector already started")

// managedSocket couples one of a reflector's four sockets with its
// lifecycle closures and the channel signalling its Closed event.
type managedSocket struct {
	name   string
	start  func() error
	stop   func()
	closed chan struct{}
}

// core carries the state machine and the four-socket fan-out/fan-in
// barrier shared by Server and Client.
type core struct {
	log log.Interface

	mu      sync.Mutex
	state   reflectorState
	sockets []*managedSocket
}

func (c *core) transition(from, to reflectorState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *core) setState(s reflectorState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// startAll launches every socket start concurrently and waits for all of
// them. Individual failures are logged and tolerated; only the loss of
// all four sockets fails the reflector as a whole.
func (c *core) startAll() error {
	var (
		mu    sync.Mutex
		errs  []error
		bound int
	)

	var g errgroup.Group
	for _, ms := range c.sockets {
		ms := ms
		g.Go(func() error {
			if err := ms.start(); err != nil {
				c.log.WithError(err).WithField("socket", ms.name).Warn("socket start failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			bound++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if bound == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// stopAll stops every socket concurrently and waits until each has
// reported Closed.
func (c *core) stopAll() {
	var g errgroup.Group
	for _, ms := range c.sockets {
		ms := ms
		g.Go(func() error {
			ms.stop()
			<-ms.closed
			return nil
		})
	}
	g.Wait()
}

// closedEvents returns an Events listener that signals the managed
// socket's closed channel exactly once.
func (ms *managedSocket) closedEvents() *Events {
	var once sync.Once
	return &Events{
		Closed: func() {
			once.Do(func() { close(ms.closed) })
		},
	}
}
