package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointConfig struct {
	Addr string `env:"ENTRYPOINT_TEST_ADDR" envDefault:":7070"`
}

func TestParseConfigAndArgs(t *testing.T) {
	t.Setenv("ENTRYPOINT_TEST_ADDR", ":7171")

	var cfg entrypointConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":7171" {
		t.Fatalf("addr = %q, want env value", cfg.Addr)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	if err := ParseArgs(fs, []string{"-addr", ":7272"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.Addr != ":7272" {
		t.Fatalf("addr = %q, want flag value", cfg.Addr)
	}
}

func TestParseConfigRequiresTarget(t *testing.T) {
	if err := ParseConfig[entrypointConfig](nil); err == nil {
		t.Fatal("expected error for nil target")
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), " ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for blank service name")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceInteraction, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
