package threadkeeper

import (
	"context"
	"log/slog"
	"reflect"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type loggerContextKey struct{}

// WithLogger returns a copy of ctx carrying the given logger
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// ContextLogger returns the logger carried by ctx, or slog.Default()
func ContextLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok &&
		logger != nil {
		return logger
	}
	return slog.Default()
}

// truncate shortens s to at most maxLen runes
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// structToSlogValue builds a [slog.Value] from a struct's exported
// fields. Fields tagged `log:"[redacted]"` have their value replaced,
// and fields tagged `log:"-"` are omitted.
func structToSlogValue(v any) slog.Value {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return slog.AnyValue(nil)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}
	rt := rv.Type()
	attrs := make([]slog.Attr, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		logTag := field.Tag.Get("log")
		if logTag == "-" {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			name = field.Name
		}
		if logTag != "" {
			attrs = append(attrs, slog.String(name, logTag))
			continue
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Pointer && !fv.IsNil() &&
			fv.Elem().Kind() == reflect.Struct {
			if _, ok := fv.Interface().(slog.LogValuer); !ok {
				attrs = append(
					attrs,
					slog.Attr{Key: name, Value: structToSlogValue(fv.Interface())},
				)
				continue
			}
		}
		attrs = append(attrs, slog.Any(name, fv.Interface()))
	}
	return slog.GroupValue(attrs...)
}

// interactionOptions returns a command interaction's options keyed by name
func interactionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	data := i.ApplicationCommandData()
	options := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(data.Options),
	)
	for _, opt := range data.Options {
		options[opt.Name] = opt
	}
	return options
}
