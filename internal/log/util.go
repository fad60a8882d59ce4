package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// toFields turns alternating key/value pairs into zap fields. Errors and
// ready-made fields may stand alone; a dangling value is kept under "extra".
func toFields(kv ...any) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i++ {
		switch v := kv[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			continue
		case error:
			fields = append(fields, zap.Error(v))
			continue
		}

		if i == len(kv)-1 {
			fields = append(fields, zap.Any("extra", kv[i]))
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, field(key, kv[i+1]))
		i++
	}
	return fields
}

func field(key string, v any) zap.Field {
	switch v := v.(type) {
	case time.Duration:
		return zap.Duration(key, v)
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	}
	return zap.Any(key, v)
}
