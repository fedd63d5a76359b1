package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Scope(val string) zap.Field {
	return zap.String("scope", val)
}
