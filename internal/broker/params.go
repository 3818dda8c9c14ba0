package broker

import (
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Options are process-wide connection settings applied on top of queue details.
type Options struct {
	Heartbeat        time.Duration
	AutoRecover      bool
	RecoveryInterval time.Duration
	ConnectionName   string
}

// Params fully describe how to open one connection.
type Params struct {
	Host             string
	Port             int
	Username         string
	Password         string
	VirtualHost      string
	Heartbeat        time.Duration
	AutoRecover      bool
	RecoveryInterval time.Duration
	ConnectionName   string
}

// NewParams builds connection parameters from a consumer's queue details.
func NewParams(d QueueDetails, opts Options) (Params, error) {
	if err := d.Validate(); err != nil {
		return Params{}, err
	}

	vhost := d.VirtualHost
	if vhost == "" {
		vhost = "/"
	}

	return Params{
		Host:             d.Host,
		Port:             d.Port,
		Username:         d.User,
		Password:         d.Password,
		VirtualHost:      vhost,
		Heartbeat:        opts.Heartbeat,
		AutoRecover:      opts.AutoRecover,
		RecoveryInterval: opts.RecoveryInterval,
		ConnectionName:   opts.ConnectionName,
	}, nil
}

// URI returns the AMQP URI for these parameters.
func (p Params) URI() string {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		Vhost:    p.VirtualHost,
	}
	return uri.String()
}

// Redacted returns a loggable form of the URI without the password.
func (p Params) Redacted() string {
	return fmt.Sprintf("amqp://%s@%s:%d/%s", p.Username, p.Host, p.Port, strings.TrimPrefix(p.VirtualHost, "/"))
}

// Config returns the amqp091 dial configuration.
func (p Params) Config() amqp.Config {
	props := amqp.NewConnectionProperties()
	if p.ConnectionName != "" {
		props.SetClientConnectionName(p.ConnectionName)
	}

	return amqp.Config{
		Heartbeat:  p.Heartbeat,
		Vhost:      p.VirtualHost,
		Properties: props,
		Locale:     "en_US",
	}
}
