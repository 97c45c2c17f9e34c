package log

import (
	"fmt"
	"log/slog"
)

func RunID[T ~string](id T) slog.Attr {
	return slog.String("run_id", string(id))
}

func Job[T ~string](name T) slog.Attr {
	return slog.String("job", string(name))
}

func Node[T ~string](node T) slog.Attr {
	return slog.String("node", string(node))
}

func Resource[T ~string](name T) slog.Attr {
	return slog.String("resource", string(name))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Result(r fmt.Stringer) slog.Attr {
	return slog.String("result", r.String())
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
