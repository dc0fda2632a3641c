// Package broker publishes account events to an external message bus.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one envelope ready for the bus. Messages sharing a Key stay
// ordered. ID is stable across redeliveries of the same event.
type Message struct {
	Key   string
	ID    string
	Kind  string
	Value []byte
}

type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Config struct {
	Driver string
	URL    string
	Topic  string
}

// Open returns nil, nil for the "none" driver.
func Open(ctx context.Context, cfg Config) (Broker, error) {
	_ = ctx

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	}

	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("broker: url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("broker: topic is required")
	}

	switch driver {
	case "kafka":
		return openKafka(cfg)
	case "nats":
		return openNATS(cfg)
	case "rabbitmq":
		return openRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("broker: unsupported driver %q", cfg.Driver)
	}
}

func splitCommaList(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func notBuilt(driver string) error {
	return fmt.Errorf("broker: %s adapter is not built; rebuild with -tags=%s", driver, driver)
}
