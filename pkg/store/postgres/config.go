package postgres

import (
	"fmt"
	"net/url"
	"strconv"
)

// Config holds the connection settings of the PostgreSQL backend.
type Config struct {
	Host           string `mapstructure:"host" yaml:"host" comment:"Hostname or IP address of the PostgreSQL server"`
	Port           uint16 `mapstructure:"port" yaml:"port" comment:"Port the PostgreSQL server listens on"`
	Username       string `mapstructure:"username" yaml:"username" comment:"Username used to authenticate with the PostgreSQL server"`
	Password       string `mapstructure:"password" yaml:"password" comment:"Password used to authenticate with the PostgreSQL server"`
	Database       string `mapstructure:"database" yaml:"database" comment:"Name of the database to connect to"`
	MaxConnections uint32 `mapstructure:"max_connections" yaml:"max_connections" comment:"Maximum number of connections in the pool"`
}

// ConnString renders the config as a postgres:// URL.
func (c Config) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + strconv.FormatUint(uint64(c.Port), 10),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	if c.MaxConnections > 0 {
		q.Set("pool_max_conns", fmt.Sprint(c.MaxConnections))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
