package client

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sealed-rpc/message"
)

// Observer sees every payload on its way out and back in. pl is nil when the call had
// no params or failed.
type Observer interface {
	Request(method string, params any, pl *message.Payload)
	Response(method string, pl *message.Payload, result any)
}

type nopObserver struct{}

func (nopObserver) Request(string, any, *message.Payload)  {}
func (nopObserver) Response(string, *message.Payload, any) {}

type logObserver struct {
	logger *zap.Logger
}

// LogObserver writes raw and transformed payloads to logger at debug level.
func LogObserver(logger *zap.Logger) Observer {
	return logObserver{logger: logger}
}

func (o logObserver) Request(method string, params any, pl *message.Payload) {
	if ce := o.logger.Check(zap.DebugLevel, "request"); ce != nil {
		ce.Write(zap.String("method", method), zap.Any("raw", params), payloadField("encoded", pl))
	}
}

func (o logObserver) Response(method string, pl *message.Payload, result any) {
	if ce := o.logger.Check(zap.DebugLevel, "response"); ce != nil {
		ce.Write(zap.String("method", method), payloadField("encoded", pl), zap.Any("raw", result))
	}
}

func payloadField(key string, pl *message.Payload) zap.Field {
	if pl == nil {
		return zap.Skip()
	}
	return zap.Object(key, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("format", pl.Format.String())
		if pl.TypeName != "" {
			enc.AddString("type", pl.TypeName)
		}
		return enc.AddReflected("value", pl.Value)
	}))
}
