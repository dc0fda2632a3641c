//go:build !nats

package broker

func openNATS(Config) (Broker, error) { return nil, notBuilt("nats") }
