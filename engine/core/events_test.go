package core

import "testing"

func TestEventBusFireStopsAtHandler(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	first, second := "first", "second"
	bus.Register(EVENT_CODE_RESIZED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return data.Data.U32[0] == 0
	})
	bus.Register(EVENT_CODE_RESIZED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return true
	})

	var ctx EventContext
	ctx.Data.U32[0] = 800
	if !bus.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Error("expected event to be handled")
	}
	if len(calls) != 2 {
		t.Fatalf("expected both listeners to run, got %v", calls)
	}

	calls = nil
	ctx.Data.U32[0] = 0
	bus.Fire(EVENT_CODE_RESIZED, nil, ctx)
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("expected only the first listener, got %v", calls)
	}
}

func TestEventBusDuplicateAndUnregister(t *testing.T) {
	bus := NewEventBus()
	noop := func(SystemEventCode, interface{}, interface{}, EventContext) bool { return true }
	owner := &struct{}{}

	if !bus.Register(EVENT_CODE_SHADER_RELOAD, owner, noop) {
		t.Fatal("expected first registration to succeed")
	}
	if bus.Register(EVENT_CODE_SHADER_RELOAD, owner, noop) {
		t.Error("expected duplicate registration to fail")
	}
	if !bus.Unregister(EVENT_CODE_SHADER_RELOAD, owner) {
		t.Error("expected unregister to succeed")
	}
	if bus.Fire(EVENT_CODE_SHADER_RELOAD, nil, EventContext{}) {
		t.Error("expected no listener after unregister")
	}
}
