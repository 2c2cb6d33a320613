package meshkit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestHandlerExportsPropagateErrors(t *testing.T) {
	if err := RegisterJSONHandler[*structpb.Struct, *structpb.Struct](nil, JSONHandlerRegistration[*structpb.Struct, *structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}

	if err := RegisterProtoHandler[*structpb.Struct](nil, ProtoHandlerRegistration[*structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}
}

func TestProtoMessageHelpers(t *testing.T) {
	msg, err := NewProtoMessage[*structpb.Struct]()
	if err != nil {
		t.Fatalf("unexpected error creating proto: %v", err)
	}
	if msg == nil {
		t.Fatal("expected proto message instance")
	}

	must := MustProtoMessage[*structpb.Struct]()
	if must == nil {
		t.Fatal("expected must helper to return instance")
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewSlogServiceLogger(slog.Default())
	logger.Info("boot", LogFields{"component": "test"})
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryValidation != "validation" {
		t.Fatalf("expected ErrorCategoryValidation to be 'validation', got %q", ErrorCategoryValidation)
	}
}

func TestRegistryExports(t *testing.T) {
	logger := NewSlogServiceLogger(slog.Default())
	reg := NewRegistry(NewMemoryInstanceStore(), logger)

	inst := &ServiceInstance{Service: "billing", ID: CreateInstanceID(), Host: "10.0.0.1", Port: 8080}
	registered, err := reg.Register(context.Background(), inst)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if registered.ID != inst.ID {
		t.Fatalf("expected registered instance to keep its id, got %q", registered.ID)
	}

	instances, err := reg.Discover(context.Background(), "billing", DiscoverOptions{})
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if len(instances) != 1 || instances[0].Status != StatusHealthy {
		t.Fatalf("unexpected discover result: %#v", instances)
	}

	picked, err := reg.LoadBalance(context.Background(), "billing", StrategyRoundRobin)
	if err != nil {
		t.Fatalf("load balance failed: %v", err)
	}
	if picked == nil {
		t.Fatal("expected an instance")
	}
}

func TestBreakerExports(t *testing.T) {
	logger := NewSlogServiceLogger(slog.Default())
	mgr := NewBreakerManager(BreakerSettings{}, logger)

	err := mgr.Execute(context.Background(), "billing", "charge", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if state := mgr.State("billing", "charge"); state != BreakerClosed {
		t.Fatalf("expected closed breaker, got %s", state)
	}
}

func TestQueueExports(t *testing.T) {
	logger := NewSlogServiceLogger(slog.Default())
	queues := NewQueueManager(NewMemoryLog(), logger, 3)

	msg, err := queues.Send(context.Background(), "payments", []byte(`{"amount":42}`), SendOptions{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.Status != MessagePending {
		t.Fatalf("expected pending message, got %s", msg.Status)
	}

	stats, err := queues.Stats(context.Background(), "payments")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected one pending message, got %d", stats.Pending)
	}
}

func TestTracingExports(t *testing.T) {
	logger := NewSlogServiceLogger(slog.Default())
	tracer := NewTracer(NewMemorySpanStore(time.Hour), logger)

	ctx, span := tracer.StartSpan(context.Background(), "billing", "charge")
	if span == nil {
		t.Fatal("expected span")
	}
	if SpanFromContext(ctx) != span {
		t.Fatal("expected span in context")
	}
	tracer.Finish(span, nil)

	md := InjectTraceContext(ctx, NewMetadata())
	if md[MetadataKeyTraceID] != span.TraceID {
		t.Fatalf("expected trace id in metadata, got %#v", md)
	}
}

func TestErrorSentinelExports(t *testing.T) {
	for _, err := range []error{
		ErrCircuitOpen, ErrMessageNotFound, ErrInstanceNotFound,
		ErrTraceNotFound, ErrBreakerNotFound, ErrQueuePaused,
	} {
		if err == nil {
			t.Fatal("expected sentinel error to be non-nil")
		}
	}
}
