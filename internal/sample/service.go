package sample

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/morezero/rpcmesh/pkg/contract"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/invoke"
)

const logPrefix = "sample:service"

// Service implements DataContract.IService.
type Service struct {
	// Notified receives the text of every Notify call when not nil.
	Notified chan<- string
}

// SetAndGetObj returns obj unchanged.
func (s *Service) SetAndGetObj(_ context.Context, obj CustomObj) (CustomObj, error) {
	return obj, nil
}

// CallByCallBack reports progress 1..count before returning.
func (s *Service) CallByCallBack(ctx context.Context, count int, progress contract.Callback) (string, error) {
	for i := 1; i <= count; i++ {
		if err := progress(ctx, i); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("done after %d callbacks", count), nil
}

// CallByCancel blocks until the call is canceled.
func (s *Service) CallByCancel(ctx context.Context) error {
	<-ctx.Done()
	slog.Info(fmt.Sprintf("%s - CallByCancel canceled: %v", logPrefix, ctx.Err()))
	return ctx.Err()
}

// CallByCustomException always fails with a CustomError.
func (s *Service) CallByCustomException(_ context.Context, text string) error {
	return &CustomError{Text: text}
}

// SetStream consumes the request body and returns its length.
func (s *Service) SetStream(_ context.Context, body io.Reader) (int64, error) {
	if body == nil {
		return 0, nil
	}
	return io.Copy(io.Discard, body)
}

// WhoAmI reports the tenant and API key headers the call arrived with.
func (s *Service) WhoAmI(ctx context.Context) (map[string]string, error) {
	return map[string]string{
		"tenant": firstNonEmpty(dispatcher.CallHeaderString(ctx, "X-Tenant"), dispatcher.CallHeaderString(ctx, "tenant")),
		"apiKey": dispatcher.CallHeaderString(ctx, "X-Api-Key"),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Notify is posted by callers; no result is returned to them.
func (s *Service) Notify(_ context.Context, text string) error {
	slog.Info(fmt.Sprintf("%s - Notify: %s", logPrefix, text))
	if s.Notified != nil {
		s.Notified <- text
	}
	return nil
}

// Instance binds s to the sample contract. Echo is instantiated for string,
// int and CustomObj.
func (s *Service) Instance() *invoke.Instance {
	echo := func(_ context.Context, args []any) (any, error) {
		return args[0], nil
	}
	return &invoke.Instance{Contract: Contract, Methods: map[string]invoke.Func{
		"SetAndGetObj": func(ctx context.Context, args []any) (any, error) {
			obj, err := invoke.Arg[CustomObj](args, 0)
			if err != nil {
				return nil, err
			}
			return s.SetAndGetObj(ctx, obj)
		},
		"CallByCallBack": func(ctx context.Context, args []any) (any, error) {
			count, err := invoke.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			return s.CallByCallBack(ctx, count, invoke.CallbackArg(args, 1))
		},
		"CallByCancel": func(ctx context.Context, args []any) (any, error) {
			return nil, s.CallByCancel(invoke.ContextArg(args, 0, ctx))
		},
		"CallByCustomException": func(ctx context.Context, args []any) (any, error) {
			text, err := invoke.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return nil, s.CallByCustomException(ctx, text)
		},
		"SetStream": func(ctx context.Context, args []any) (any, error) {
			return s.SetStream(ctx, invoke.StreamArg(args, 0))
		},
		"WhoAmI": func(ctx context.Context, _ []any) (any, error) {
			return s.WhoAmI(ctx)
		},
		"Notify": func(ctx context.Context, args []any) (any, error) {
			text, err := invoke.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return nil, s.Notify(ctx, text)
		},
		"Echo[string]":    echo,
		"Echo[int]":       echo,
		"Echo[CustomObj]": echo,
	}}
}
