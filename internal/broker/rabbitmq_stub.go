//go:build !rabbitmq

package broker

func openRabbitMQ(Config) (Broker, error) { return nil, notBuilt("rabbitmq") }
