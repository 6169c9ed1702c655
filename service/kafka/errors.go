package kafka

import "errors"

var ErrProducerNotReady = errors.New("kafka producer not initialized")
