package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CHAT_E2E_SERVER_URL and CHAT_E2E_SOCKET_URL point the suite at a
	// running server. Left empty, the suite spins an in-process fake.
	ServerURL string `envconfig:"CHAT_E2E_SERVER_URL"`
	SocketURL string `envconfig:"CHAT_E2E_SOCKET_URL"`
	// CHAT_E2E_COLOURS enables colorized step headers for readability
	Colours bool `envconfig:"CHAT_E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
