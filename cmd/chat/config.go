package main

import "time"

type Config struct {
	ServerURL         string        `env:"CHAT_SERVER_URL,default=http://localhost:5001"`
	SocketURL         string        `env:"CHAT_SOCKET_URL,default=ws://localhost:5001/ws"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT,default=10s"`
	AckTimeout        time.Duration `env:"ACK_TIMEOUT,default=5s"`
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS,default=5"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY,default=3s"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	DebugPort         int           `env:"DEBUG_PORT"`
}
