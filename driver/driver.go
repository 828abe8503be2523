// Package driver adapts client.Connection to database/sql.
//
// The table service client is supplied by the caller, either through
// NewConnector or by registering it under a name with RegisterClient and
// opening a DSN of the form "name?property=value&...". Properties use the
// names listed by client.Properties.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/dan-strohschein/ydbsql-driver/client"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// DriverName is the name the driver is registered under.
const DriverName = "ydbsql"

var (
	clientsMu sync.RWMutex
	clients   = make(map[string]tableclient.Client)
)

func init() {
	sql.Register(DriverName, &Driver{})
}

// RegisterClient makes tc available to DSNs naming it. Registering a name
// again replaces the client.
func RegisterClient(name string, tc tableclient.Client) {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if tc == nil {
		delete(clients, name)
		return
	}
	clients[name] = tc
}

func lookupClient(name string) (tableclient.Client, bool) {
	clientsMu.RLock()
	defer clientsMu.RUnlock()
	tc, ok := clients[name]
	return tc, ok
}

// Driver implements driver.Driver and driver.DriverContext.
type Driver struct{}

// Open opens a new connection for dsn.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses dsn once for all connections of a sql.DB.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	name, opts, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	tc, ok := lookupClient(name)
	if !ok {
		return nil, fmt.Errorf("ydbsql: no table client registered as %q", name)
	}
	return &Connector{client: tc, opts: opts, driver: d}, nil
}

// ParseDSN splits dsn into the client name and the connection options.
func ParseDSN(dsn string) (string, client.Options, error) {
	name, rawQuery, _ := strings.Cut(dsn, "?")
	if name == "" {
		return "", client.Options{}, fmt.Errorf("ydbsql: dsn %q has no client name", dsn)
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", client.Options{}, fmt.Errorf("ydbsql: invalid dsn properties: %w", err)
	}
	props := make(map[string]string, len(values))
	for key, vals := range values {
		props[key] = vals[len(vals)-1]
	}

	opts, err := client.OptionsFromProperties(props)
	if err != nil {
		return "", client.Options{}, err
	}
	return name, opts, nil
}

// Connector opens connections over one table service client.
type Connector struct {
	client tableclient.Client
	opts   client.Options
	driver *Driver
}

// NewConnector returns a connector for use with sql.OpenDB.
func NewConnector(tc tableclient.Client, opts client.Options) *Connector {
	return &Connector{client: tc, opts: opts, driver: &Driver{}}
}

// Connect opens a connection. Sessions are acquired on first use.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := client.Open(ctx, c.client, c.opts)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Driver returns the underlying driver.
func (c *Connector) Driver() driver.Driver {
	return c.driver
}

var (
	_ driver.Driver        = &Driver{}
	_ driver.DriverContext = &Driver{}
	_ driver.Connector     = &Connector{}
)
