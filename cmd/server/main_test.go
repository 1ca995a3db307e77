package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/meetswap/internal/config"
	"github.com/xtrntr/meetswap/internal/payment"
)

func TestNewGateway(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	remote := config.GatewayConfig{
		BaseURL: "https://gateway.example",
		APIKey:  "k",
		Timeout: config.Duration{Duration: 5 * time.Second},
	}

	_, ok := newGateway(remote, false, logger).(*payment.HTTPGateway)
	assert.True(t, ok, "postgres store should charge through the remote gateway")

	assert.IsType(t, payment.Sandbox{}, newGateway(remote, true, logger))

	sandbox := remote
	sandbox.Sandbox = true
	assert.IsType(t, payment.Sandbox{}, newGateway(sandbox, false, logger))
}
