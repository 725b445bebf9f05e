package events

import (
	"testing"

	"coreengine/pkg/types"
)

func TestEmitter_FansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	e := NewEmitter(nil)
	a := e.Subscribe()
	b := e.Subscribe()

	e.WhaleTrade("BTCUSDT", 1000, types.WhaleTradePayload{})

	select {
	case ev := <-a:
		if ev.Kind != types.EventWhaleTrade {
			t.Errorf("Kind = %v, want EventWhaleTrade", ev.Kind)
		}
		if ev.ID == "" {
			t.Error("expected a generated event ID")
		}
	default:
		t.Fatal("expected subscriber a to receive the event")
	}

	select {
	case <-b:
	default:
		t.Fatal("expected subscriber b to receive the event")
	}
}

func TestEmitter_DropsOnFullChannelWithoutBlocking(t *testing.T) {
	t.Parallel()
	e := NewEmitter(nil)
	ch := e.Subscribe()

	for i := 0; i < channelCapacity+10; i++ {
		e.IcebergDetected("ETHUSDT", int64(i), false, types.IcebergDetectedPayload{})
	}

	if len(ch) != channelCapacity {
		t.Errorf("len(ch) = %d, want %d (full but not blocked)", len(ch), channelCapacity)
	}
}

func TestEmitter_IcebergDetectedVsRefilledKind(t *testing.T) {
	t.Parallel()
	e := NewEmitter(nil)
	ch := e.Subscribe()

	e.IcebergDetected("BTCUSDT", 1, false, types.IcebergDetectedPayload{})
	e.IcebergDetected("BTCUSDT", 2, true, types.IcebergDetectedPayload{})

	first := <-ch
	second := <-ch
	if first.Kind != types.EventIcebergDetected {
		t.Errorf("first.Kind = %v, want EventIcebergDetected", first.Kind)
	}
	if second.Kind != types.EventIcebergRefilled {
		t.Errorf("second.Kind = %v, want EventIcebergRefilled", second.Kind)
	}
}
