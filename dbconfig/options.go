package dbconfig

import "time"

// Options is the fully resolved configuration a ConnectionManager uses to
// dial a server and mint sessions.
type Options struct {
	Protocol string
	Host     string
	Port     int
	Database string
	User     string
	Password string

	PipeliningEnabled bool
	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
}

// Option customizes Options built by NewOptions.
type Option func(*Options)

// WithPipelining overrides whether new sessions start in pipelining mode.
func WithPipelining(enabled bool) Option {
	return func(o *Options) { o.PipeliningEnabled = enabled }
}

// WithConnectTimeout overrides the outbound TCP dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

// WithHandshakeTimeout overrides the timeout for the protocol
// handshake/authentication phase once the socket is open.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = d }
}

// WithDefaults layers a previously loaded Defaults snapshot under the
// options built so far; it must be applied before any explicit With*
// option the caller wants to take precedence.
func WithDefaults(d Defaults) Option {
	return func(o *Options) {
		o.PipeliningEnabled = d.PipeliningEnabled
		o.ConnectTimeout = time.Duration(d.ConnectTimeout)
		o.HandshakeTimeout = time.Duration(d.HandshakeTimeout)
	}
}

// NewOptions resolves a connection URL plus explicit user/password and any
// functional options into a ready-to-use Options value, applying built-in
// defaults first so options can selectively override them.
func NewOptions(rawURL, user, password string, opts ...Option) (*Options, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	o := &Options{
		Protocol:          target.Protocol,
		Host:              target.Host,
		Port:              target.Port,
		Database:          target.Database,
		User:              user,
		Password:          password,
		PipeliningEnabled: true,
		ConnectTimeout:    10 * time.Second,
		HandshakeTimeout:  5 * time.Second,
	}
	if o.User == "" {
		o.User = target.User
	}
	if o.Password == "" {
		o.Password = target.Password
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}
