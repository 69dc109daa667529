package kafka

import "github.com/xdg-go/scram"

// scramClient adapts xdg-go/scram to sarama's SCRAMClient, fixed to
// SCRAM-SHA-512 since that is the only mechanism the brokers accept.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := scram.SHA512.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}

	c.Client = client
	c.ClientConversation = client.NewConversation()

	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}
