//go:build !kafka

package broker

func openKafka(Config) (Broker, error) { return nil, notBuilt("kafka") }
