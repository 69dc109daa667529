package healthchecker

import (
	"net"

	"git.mci.dev/mse/sre/phoenix/golang/fennec/internal/config"
)

// CheckWebhook verifies the webhook port can be bound again after the
// server died (typically an address-in-use condition clearing up).
func CheckWebhook() error {
	listener, err := net.Listen("tcp", ":"+config.Conf.WebhookPort)
	if err != nil {
		return err
	}

	return listener.Close()
}
