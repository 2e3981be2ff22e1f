package mqtt

import "fmt"

// Subscribe registers handler for a topic pattern. MQTT wildcards work:
// "graylogic/command/gpio/+" matches every device command on this
// bridge. The subscription survives reconnects; the client replays it
// each time the connection comes back.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routeMu.Lock()
	c.routes[topic] = route{topic: topic, qos: qos, handler: handler}
	c.routeMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.safeHandler(handler))
	if !token.WaitTimeout(publishTimeout) {
		c.dropRoute(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		c.dropRoute(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe stops delivery for an exact topic pattern previously
// passed to Subscribe. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.dropRoute(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (c *Client) dropRoute(topic string) {
	c.routeMu.Lock()
	delete(c.routes, topic)
	c.routeMu.Unlock()
}

// SubscriptionCount returns how many topic patterns are tracked.
func (c *Client) SubscriptionCount() int {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	return len(c.routes)
}

// HasSubscription reports whether the exact pattern is tracked. No
// wildcard matching is attempted.
func (c *Client) HasSubscription(topic string) bool {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	_, ok := c.routes[topic]
	return ok
}
