package reflector

import (
	"net"
)

// endpoint is one remote reflector destination, resolved at Start.
type endpoint struct {
	host string
	ip   net.IP
}

// Client is the observing end of a reflector pair. It owns the same
// four-socket set as the Server; locally observed multicast traffic is
// forwarded unchanged over unicast to every configured remote reflector
// endpoint, and reflector replies are logged.
type Client struct {
	core
	opts options

	mcast4, mcast6 *MulticastSocket
	ucast4, ucast6 *UnicastSocket

	endpoints []endpoint
}

// NewClient creates a reflector client. The remote reflector endpoints
// are given with WithReflectorEndpoints; no sockets are opened until
// Start.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{opts: o}
	c.core.log = o.logger.WithField("role", "reflector-client")
	return c
}

// Start resolves the configured endpoints, then creates and starts all
// four sockets with the same barrier discipline as the Server.
func (c *Client) Start() error {
	if !c.transition(reflectorIdle, reflectorStarting) {
		return errNotIdle
	}

	c.resolveEndpoints()

	o := &c.opts
	c.mcast4 = NewMulticastSocket("mcast-v4", FamilyIPv4, o.preset.GroupIPv4, o.preset.Port, o.socketOptions(o.bindIPv4)...)
	c.mcast6 = NewMulticastSocket("mcast-v6", FamilyIPv6, o.preset.GroupIPv6, o.preset.Port, o.socketOptions(o.bindIPv6)...)
	c.ucast4 = NewUnicastSocket("ucast-v4", FamilyIPv4, o.socketOptions(o.bindIPv4)...)
	c.ucast6 = NewUnicastSocket("ucast-v6", FamilyIPv6, o.socketOptions(o.bindIPv6)...)

	c.mcast4.AddListener(&Events{
		Message: func(payload []byte, from *net.UDPAddr) { c.forward(payload, from) },
		Error:   c.socketError,
	})
	c.mcast6.AddListener(&Events{
		Message: func(payload []byte, from *net.UDPAddr) { c.forward(payload, from) },
		Error:   c.socketError,
	})
	c.ucast4.AddListener(&Events{Message: c.reply, Error: c.socketError})
	c.ucast6.AddListener(&Events{Message: c.reply, Error: c.socketError})

	c.sockets = []*managedSocket{
		{name: "mcast-v4", start: c.mcast4.Start, stop: c.mcast4.Stop, closed: make(chan struct{})},
		{name: "mcast-v6", start: c.mcast6.Start, stop: c.mcast6.Stop, closed: make(chan struct{})},
		{name: "ucast-v4", start: c.ucast4.Start, stop: c.ucast4.Stop, closed: make(chan struct{})},
		{name: "ucast-v6", start: c.ucast6.Start, stop: c.ucast6.Stop, closed: make(chan struct{})},
	}
	for i, sock := range []interface{ AddListener(*Events) }{c.mcast4, c.mcast6, c.ucast4, c.ucast6} {
		sock.AddListener(c.sockets[i].closedEvents())
	}

	if err := c.startAll(); err != nil {
		c.setState(reflectorStopped)
		return err
	}

	c.setState(reflectorRunning)
	c.log.Info("running")
	return nil
}

// resolveEndpoints turns the configured endpoint hosts into addresses.
// A host that does not resolve, e.g. a Docker host alias outside a
// container, is logged and skipped.
func (c *Client) resolveEndpoints() {
	c.endpoints = c.endpoints[:0]
	for _, host := range c.opts.endpoints {
		ip := net.ParseIP(host)
		if ip == nil {
			addr, err := net.ResolveIPAddr("ip", host)
			if err != nil {
				c.log.WithError(err).WithField("host", host).Warn("reflector endpoint unresolved")
				continue
			}
			ip = addr.IP
		}
		c.endpoints = append(c.endpoints, endpoint{host: host, ip: ip})
		c.log.WithField("host", host).WithField("addr", ip.String()).Info("reflector endpoint")
	}
}

// forward relays one locally observed multicast payload to every
// configured remote reflector endpoint.
func (c *Client) forward(payload []byte, from *net.UDPAddr) {
	lg := c.log.WithField("from", from.String()).WithField("bytes", len(payload))
	if !c.opts.filter.Match(payload) {
		lg.Debug("dropped by record-name filter")
		return
	}
	lg.Debug("forward to reflector: " + messageSummary(payload))

	for _, ep := range c.endpoints {
		if ep.ip.To4() != nil {
			c.ucast4.Send(payload, ep.ip, c.opts.reflectorPort)
		} else {
			c.ucast6.Send(payload, ep.ip, c.opts.reflectorPort)
		}
	}
}

// reply logs acknowledgements and other unicast replies from the remote
// reflector.
func (c *Client) reply(payload []byte, from *net.UDPAddr) {
	c.log.WithField("from", from.String()).
		WithField("bytes", len(payload)).
		Debug("reflector reply")
}

func (c *Client) socketError(err error) {
	c.log.WithError(err).Error("socket error")
	if c.opts.errorHandler != nil {
		c.opts.errorHandler(err)
	}
}

// Stop stops all four sockets concurrently, waits until each has
// closed, and drops every listener. A second Stop is a no-op.
func (c *Client) Stop() {
	if !c.transition(reflectorRunning, reflectorStopping) {
		return
	}
	c.stopAll()
	c.mcast4.RemoveListeners()
	c.mcast6.RemoveListeners()
	c.ucast4.RemoveListeners()
	c.ucast6.RemoveListeners()
	c.setState(reflectorStopped)
	c.log.Info("stopped")
}
