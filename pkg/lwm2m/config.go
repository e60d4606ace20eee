package lwm2m

import "time"

// TxParams holds the CoAP reliable-transmission parameters of RFC 7252
// §4.8, tunable per §6's udp_tx_params knob.
type TxParams struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int
	MaxLatency      time.Duration
}

// DefaultTxParams reproduces RFC 7252's defaults (ACK_TIMEOUT=2s,
// ACK_RANDOM_FACTOR=1.5, MAX_RETRANSMIT=4, MAX_LATENCY=100s), from which
// transmission.go derives MAX_TRANSMIT_SPAN/EXCHANGE_LIFETIME.
func DefaultTxParams() TxParams {
	return TxParams{
		AckTimeout:      2 * time.Second,
		AckRandomFactor: 1.5,
		MaxRetransmit:   4,
		MaxLatency:      100 * time.Second,
	}
}

// Config gathers every fixed-capacity and timing knob named in §6. It is
// built through functional Opts and never mutated after NewEngine, the
// same shape as kgo.Client's cfg.
type Config struct {
	logger Logger

	inMsgBufferSize  int
	outMsgBufferSize int

	dmMaxObjectsNumber int

	observeMaxObservationsNumber    int
	observeMaxWriteAttributesNumber int

	lwm2mSendQueueSize int

	coapMaxOptionsNumber     int
	coapMaxAttrOptionSize    int
	coapMaxLocationPaths     int
	coapMaxLocationPathSize  int

	cacheEntriesNumber int

	udpTxParams TxParams

	exchangeRequestTimeout time.Duration

	queueModeEnabled bool
	queueModeTimeout time.Duration

	bootstrapRetryCount   int
	bootstrapRetryTimeout time.Duration
	bootstrapTimeout      time.Duration
}

// Opt configures a Config; apply in order via NewConfig.
type Opt func(*Config)

func defaultConfig() *Config {
	return &Config{
		logger: NopLogger(),

		inMsgBufferSize:  1152,
		outMsgBufferSize: 1152,

		dmMaxObjectsNumber: 32,

		observeMaxObservationsNumber:    16,
		observeMaxWriteAttributesNumber: 32,

		lwm2mSendQueueSize: 4,

		coapMaxOptionsNumber:    16,
		coapMaxAttrOptionSize:   64,
		coapMaxLocationPaths:    2,
		coapMaxLocationPathSize: 32,

		cacheEntriesNumber: 4,

		udpTxParams: DefaultTxParams(),

		exchangeRequestTimeout: 90 * time.Second,

		queueModeEnabled: false,
		queueModeTimeout: 96 * time.Hour,

		bootstrapRetryCount:   5,
		bootstrapRetryTimeout: 60 * time.Second,
		bootstrapTimeout:      10 * time.Minute,
	}
}

// NewConfig applies opts over the built-in defaults.
func NewConfig(opts ...Opt) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithLogger(l Logger) Opt { return func(c *Config) { c.logger = l } }

func WithInMsgBufferSize(n int) Opt  { return func(c *Config) { c.inMsgBufferSize = n } }
func WithOutMsgBufferSize(n int) Opt { return func(c *Config) { c.outMsgBufferSize = n } }

func WithDMMaxObjectsNumber(n int) Opt { return func(c *Config) { c.dmMaxObjectsNumber = n } }

func WithObserveMaxObservationsNumber(n int) Opt {
	return func(c *Config) { c.observeMaxObservationsNumber = n }
}
func WithObserveMaxWriteAttributesNumber(n int) Opt {
	return func(c *Config) { c.observeMaxWriteAttributesNumber = n }
}

func WithSendQueueSize(n int) Opt { return func(c *Config) { c.lwm2mSendQueueSize = n } }

func WithCoAPMaxOptionsNumber(n int) Opt    { return func(c *Config) { c.coapMaxOptionsNumber = n } }
func WithCoAPMaxAttrOptionSize(n int) Opt   { return func(c *Config) { c.coapMaxAttrOptionSize = n } }
func WithCoAPMaxLocationPaths(n int) Opt    { return func(c *Config) { c.coapMaxLocationPaths = n } }
func WithCoAPMaxLocationPathSize(n int) Opt { return func(c *Config) { c.coapMaxLocationPathSize = n } }

func WithCacheEntriesNumber(n int) Opt { return func(c *Config) { c.cacheEntriesNumber = n } }

func WithUDPTxParams(p TxParams) Opt { return func(c *Config) { c.udpTxParams = p } }

func WithExchangeRequestTimeout(d time.Duration) Opt {
	return func(c *Config) { c.exchangeRequestTimeout = d }
}

func WithQueueMode(timeout time.Duration) Opt {
	return func(c *Config) { c.queueModeEnabled = true; c.queueModeTimeout = timeout }
}

func WithBootstrapRetry(count int, timeout time.Duration) Opt {
	return func(c *Config) { c.bootstrapRetryCount = count; c.bootstrapRetryTimeout = timeout }
}

func WithBootstrapTimeout(d time.Duration) Opt {
	return func(c *Config) { c.bootstrapTimeout = d }
}
