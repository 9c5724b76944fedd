package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the process environment shared by every binary. Values may also
// come from a .env file loaded by the caller.
type Env struct {
	MQTTBroker   string `env:"MQTT_BROKER"   envDefault:"localhost"`
	MQTTPort     int    `env:"MQTT_PORT"     envDefault:"1883"`
	MQTTTopic    string `env:"MQTT_TOPIC"    envDefault:"playfield"`
	MQTTUser     string `env:"MQTT_USER"`
	MQTTPassword string `env:"MQTT_PASSWORD"`
	MQTTTLS      bool   `env:"MQTT_TLS"`

	ProjectorWidth  int `env:"PROJECTOR_WIDTH"  envDefault:"1920"`
	ProjectorHeight int `env:"PROJECTOR_HEIGHT" envDefault:"1080"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	return parseEnv(env.Options{})
}

// ParseEnvMap reads Env from vars instead of the process environment.
func ParseEnvMap(vars map[string]string) (Env, error) {
	return parseEnv(env.Options{Environment: vars})
}

func parseEnv(opts env.Options) (Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Validate checks ranges that the tag parser cannot.
func (e Env) Validate() error {
	if e.MQTTPort <= 0 || e.MQTTPort > 65535 {
		return fmt.Errorf("MQTT_PORT must be in 1-65535, got %d", e.MQTTPort)
	}
	if e.MQTTTopic == "" {
		return fmt.Errorf("MQTT_TOPIC must not be empty")
	}
	if e.ProjectorWidth <= 0 || e.ProjectorHeight <= 0 {
		return fmt.Errorf("projector size must be positive, got %dx%d", e.ProjectorWidth, e.ProjectorHeight)
	}
	return nil
}

// BrokerURL returns the paho-style broker address.
func (e Env) BrokerURL() string {
	scheme := "tcp"
	if e.MQTTTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, e.MQTTBroker, e.MQTTPort)
}
