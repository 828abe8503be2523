package client

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dan-strohschein/ydbsql-driver/params"
	"github.com/dan-strohschein/ydbsql-driver/query"
)

// Options configures a Connection. Options are read once by Open and are
// immutable afterwards.
type Options struct {
	// JoinDuration is the default timeout for every remote operation that
	// has no more specific timeout.
	// Default: 5m
	JoinDuration time.Duration `toml:"joinDuration"`

	// QueryTimeout bounds data, scheme and explain queries. Zero falls back
	// to JoinDuration.
	// Default: 0
	QueryTimeout time.Duration `toml:"queryTimeout"`

	// ScanQueryTimeout bounds scan queries.
	// Default: 5m
	ScanQueryTimeout time.Duration `toml:"scanQueryTimeout"`

	// FailOnTruncatedResult fails a data query whose result set was cut at
	// the service row limit.
	// Default: false
	FailOnTruncatedResult bool `toml:"failOnTruncatedResult"`

	// SessionTimeout bounds session acquisition.
	// Default: 5s
	SessionTimeout time.Duration `toml:"sessionTimeout"`

	// DeadlineTimeout is sent to the service as the operation timeout. The
	// client side wait is one second longer.
	// Default: 0 (disabled)
	DeadlineTimeout time.Duration `toml:"deadlineTimeout"`

	// AutoCommit commits every data query with the query itself.
	// Default: true
	AutoCommit bool `toml:"autoCommit"`

	// TransactionLevel is the initial isolation level.
	// Default: SERIALIZABLE
	TransactionLevel IsolationLevel `toml:"transactionLevel"`

	// EnforceSQLV1 prepends the --!syntax_v1 directive to every query.
	// Default: true
	EnforceSQLV1 bool `toml:"enforceSqlV1"`

	// EnforceVariablePrefix adds $ to named variables when absent.
	// Default: true
	EnforceVariablePrefix bool `toml:"enforceVariablePrefix"`

	// DetectSQLOperations classifies queries by their leading keyword.
	// Default: true
	DetectSQLOperations bool `toml:"detectSqlOperations"`

	// DisablePrepareDataQuery skips the remote prepare for prepared
	// statements in AUTO mode.
	// Default: false
	DisablePrepareDataQuery bool `toml:"disablePrepareDataQuery"`

	// DisableAutoPreparedBatches turns off list-of-struct batch detection.
	// Default: false
	DisableAutoPreparedBatches bool `toml:"disableAutoPreparedBatches"`

	// DisableJdbcParameters turns off ? placeholder detection.
	// Default: false
	DisableJdbcParameters bool `toml:"disableJdbcParameters"`

	// ScanQueryTxMode decides what a scan query does inside a transaction.
	// Default: ERROR
	ScanQueryTxMode FakeTxMode `toml:"scanQueryTxMode"`

	// SchemeQueryTxMode decides what a scheme query does inside a transaction.
	// Default: ERROR
	SchemeQueryTxMode FakeTxMode `toml:"schemeQueryTxMode"`

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string `toml:"logLevel"`

	// DebugMode enables verbose error serialization with full cause chains.
	// Default: false
	DebugMode bool `toml:"debugMode"`

	// QueryCacheSize is the number of parsed queries kept per connection.
	// Default: 256
	QueryCacheSize int `toml:"queryCacheSize"`

	// MaxRetries is the number of extra attempts for idempotent calls.
	// Uses exponential backoff starting at RetryBackoff.
	// Default: 3
	MaxRetries int `toml:"maxRetries"`

	// RetryBackoff is the delay before the first retry.
	// Default: 50ms
	RetryBackoff time.Duration `toml:"retryBackoff"`

	// Logger is the logger implementation to use.
	// If nil, a zap logger at LogLevel is used.
	Logger Logger `toml:"-"`

	// OnStateChange is called after every transaction state transition.
	OnStateChange StateChangeHandler `toml:"-"`

	// Hooks run around every remote call, in order.
	Hooks []Hook `toml:"-"`
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		JoinDuration:          5 * time.Minute,
		QueryTimeout:          0,
		ScanQueryTimeout:      5 * time.Minute,
		SessionTimeout:        5 * time.Second,
		DeadlineTimeout:       0,
		AutoCommit:            true,
		TransactionLevel:      Serializable,
		EnforceSQLV1:          true,
		EnforceVariablePrefix: true,
		DetectSQLOperations:   true,
		ScanQueryTxMode:       FakeTxError,
		SchemeQueryTxMode:     FakeTxError,
		LogLevel:              "INFO",
		QueryCacheSize:        query.DefaultCacheSize,
		MaxRetries:            3,
		RetryBackoff:          50 * time.Millisecond,
	}
}

// Validate checks the options for values Open cannot work with.
func (o Options) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"joinDuration", o.JoinDuration},
		{"queryTimeout", o.QueryTimeout},
		{"scanQueryTimeout", o.ScanQueryTimeout},
		{"sessionTimeout", o.SessionTimeout},
		{"deadlineTimeout", o.DeadlineTimeout},
		{"retryBackoff", o.RetryBackoff},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, d.d)
		}
	}
	if !o.TransactionLevel.Valid() {
		return ErrInvalidIsolationLevel(o.TransactionLevel)
	}
	if o.ScanQueryTxMode.String() == "UNKNOWN" {
		return fmt.Errorf("invalid scanQueryTxMode %d", o.ScanQueryTxMode)
	}
	if o.SchemeQueryTxMode.String() == "UNKNOWN" {
		return fmt.Errorf("invalid schemeQueryTxMode %d", o.SchemeQueryTxMode)
	}
	if o.QueryCacheSize < 0 {
		return fmt.Errorf("queryCacheSize must not be negative, got %d", o.QueryCacheSize)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative, got %d", o.MaxRetries)
	}
	return nil
}

// QueryOptions returns the classifier options derived from o.
func (o Options) QueryOptions() query.Options {
	return query.Options{
		EnforceSyntaxV1:       o.EnforceSQLV1,
		EnforceVariablePrefix: o.EnforceVariablePrefix,
		DetectJdbcParameters:  !o.DisableJdbcParameters,
		DetectSQLOperations:   o.DetectSQLOperations,
	}
}

// BinderOptions returns the binder options for a statement in mode.
func (o Options) BinderOptions(mode params.PrepareMode) params.Options {
	return params.Options{
		EnforceVariablePrefix: o.EnforceVariablePrefix,
		BatchEnabled:          !o.DisableAutoPreparedBatches,
		Mode:                  mode,
	}
}

// RetryPolicy returns the retry policy for idempotent calls.
func (o Options) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    o.MaxRetries + 1,
		InitialBackoff: o.RetryBackoff,
		MaxBackoff:     5 * time.Second,
	}
}

// Property describes one configuration property.
type Property struct {
	Name        string
	Description string
	Default     string
	apply       func(o *Options, value string) error
}

var properties = []Property{
	{"joinDuration", "Default timeout for all operations", "5m", durationProp(func(o *Options) *time.Duration { return &o.JoinDuration })},
	{"queryTimeout", "Default timeout for data queries, scheme and explain operations", "0s", durationProp(func(o *Options) *time.Duration { return &o.QueryTimeout })},
	{"scanQueryTimeout", "Default timeout for scan queries", "5m", durationProp(func(o *Options) *time.Duration { return &o.ScanQueryTimeout })},
	{"failOnTruncatedResult", "Fail when a truncated result is received", "false", boolProp(func(o *Options) *bool { return &o.FailOnTruncatedResult })},
	{"sessionTimeout", "Default timeout to create a session", "5s", durationProp(func(o *Options) *time.Duration { return &o.SessionTimeout })},
	{"deadlineTimeout", "Deadline timeout for all operations", "0s", durationProp(func(o *Options) *time.Duration { return &o.DeadlineTimeout })},
	{"autoCommit", "Auto commit all operations", "true", boolProp(func(o *Options) *bool { return &o.AutoCommit })},
	{"transactionLevel", "Default transaction isolation level", "SERIALIZABLE", func(o *Options, v string) error {
		return o.TransactionLevel.UnmarshalText([]byte(v))
	}},
	{"enforceSqlV1", "Enforce SQL v1 grammar by adding --!syntax_v1 in the beginning of each statement", "true", boolProp(func(o *Options) *bool { return &o.EnforceSQLV1 })},
	{"enforceVariablePrefix", "Add $ to all named variables when absent", "true", boolProp(func(o *Options) *bool { return &o.EnforceVariablePrefix })},
	{"detectSqlOperations", "Detect and execute operations based on SQL keywords", "true", boolProp(func(o *Options) *bool { return &o.DetectSQLOperations })},
	{"disablePrepareDataQuery", "Do not prepare data queries remotely when creating prepared statements", "false", boolProp(func(o *Options) *bool { return &o.DisablePrepareDataQuery })},
	{"disableAutoPreparedBatches", "Do not detect lists of tuples or structs in prepared statements", "false", boolProp(func(o *Options) *bool { return &o.DisableAutoPreparedBatches })},
	{"disableJdbcParameters", "Do not detect ? positional parameters", "false", boolProp(func(o *Options) *bool { return &o.DisableJdbcParameters })},
	{"scanQueryTxMode", "Scan query behavior inside a transaction: FAKE_TX, SHADOW_COMMIT or ERROR", "ERROR", func(o *Options, v string) error {
		return o.ScanQueryTxMode.UnmarshalText([]byte(v))
	}},
	{"schemeQueryTxMode", "Scheme query behavior inside a transaction: FAKE_TX, SHADOW_COMMIT or ERROR", "ERROR", func(o *Options, v string) error {
		return o.SchemeQueryTxMode.UnmarshalText([]byte(v))
	}},
	{"logLevel", "Minimum log level: DEBUG, INFO, WARN or ERROR", "INFO", func(o *Options, v string) error {
		o.LogLevel = strings.ToUpper(strings.TrimSpace(v))
		return nil
	}},
	{"debugMode", "Include cause chains and stack traces in formatted errors", "false", boolProp(func(o *Options) *bool { return &o.DebugMode })},
	{"queryCacheSize", "Number of parsed queries cached per connection", strconv.Itoa(query.DefaultCacheSize), intProp(func(o *Options) *int { return &o.QueryCacheSize })},
	{"maxRetries", "Extra attempts for idempotent remote calls", "3", intProp(func(o *Options) *int { return &o.MaxRetries })},
	{"retryBackoff", "Initial backoff between retries", "50ms", durationProp(func(o *Options) *time.Duration { return &o.RetryBackoff })},
}

func durationProp(field func(*Options) *time.Duration) func(*Options, string) error {
	return func(o *Options, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(o) = d
		return nil
	}
}

func boolProp(field func(*Options) *bool) func(*Options, string) error {
	return func(o *Options, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(o) = b
		return nil
	}
}

func intProp(field func(*Options) *int) func(*Options, string) error {
	return func(o *Options, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(o) = n
		return nil
	}
}

// Properties lists every configuration property in declaration order.
func Properties() []Property {
	return append([]Property(nil), properties...)
}

// PropertyValues returns the current value of every property of o in the
// text form OptionsFromProperties accepts.
func (o Options) PropertyValues() map[string]string {
	return map[string]string{
		"joinDuration":               o.JoinDuration.String(),
		"queryTimeout":               o.QueryTimeout.String(),
		"scanQueryTimeout":           o.ScanQueryTimeout.String(),
		"failOnTruncatedResult":      strconv.FormatBool(o.FailOnTruncatedResult),
		"sessionTimeout":             o.SessionTimeout.String(),
		"deadlineTimeout":            o.DeadlineTimeout.String(),
		"autoCommit":                 strconv.FormatBool(o.AutoCommit),
		"transactionLevel":           o.TransactionLevel.String(),
		"enforceSqlV1":               strconv.FormatBool(o.EnforceSQLV1),
		"enforceVariablePrefix":      strconv.FormatBool(o.EnforceVariablePrefix),
		"detectSqlOperations":        strconv.FormatBool(o.DetectSQLOperations),
		"disablePrepareDataQuery":    strconv.FormatBool(o.DisablePrepareDataQuery),
		"disableAutoPreparedBatches": strconv.FormatBool(o.DisableAutoPreparedBatches),
		"disableJdbcParameters":      strconv.FormatBool(o.DisableJdbcParameters),
		"scanQueryTxMode":            o.ScanQueryTxMode.String(),
		"schemeQueryTxMode":          o.SchemeQueryTxMode.String(),
		"logLevel":                   o.LogLevel,
		"debugMode":                  strconv.FormatBool(o.DebugMode),
		"queryCacheSize":             strconv.Itoa(o.QueryCacheSize),
		"maxRetries":                 strconv.Itoa(o.MaxRetries),
		"retryBackoff":               o.RetryBackoff.String(),
	}
}

// OptionsFromProperties builds Options from name/value pairs on top of the
// defaults. Unknown names fail.
func OptionsFromProperties(props map[string]string) (Options, error) {
	opts := DefaultOptions()
	if err := opts.Apply(props); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Apply sets the named properties on o. Names are applied in sorted order
// so the first error is deterministic.
func (o *Options) Apply(props map[string]string) error {
	index := make(map[string]Property, len(properties))
	for _, p := range properties {
		index[p.Name] = p
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, ok := index[name]
		if !ok {
			return fmt.Errorf("unknown property %q", name)
		}
		if err := p.apply(o, props[name]); err != nil {
			return fmt.Errorf("invalid value %q for property %s: %w", props[name], name, err)
		}
	}
	return nil
}

// LoadOptionsFile reads a TOML file of properties on top of the defaults.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()
	md, err := toml.DecodeFile(path, &opts)
	if err != nil {
		return Options{}, fmt.Errorf("load options %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Options{}, fmt.Errorf("load options %s: unknown property %q", path, undecoded[0].String())
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
