package core

// Key code definitions, a subset of the virtual key table the renderer binds.
type KeyCode uint16

const (
	KEY_TAB       KeyCode = 0x09
	KEY_ESCAPE    KeyCode = 0x1B
	KEY_SPACE     KeyCode = 0x20
	KEY_LEFT      KeyCode = 0x25
	KEY_UP        KeyCode = 0x26
	KEY_RIGHT     KeyCode = 0x27
	KEY_DOWN      KeyCode = 0x28
	KEY_A         KeyCode = 0x41
	KEY_D         KeyCode = 0x44
	KEY_E         KeyCode = 0x45
	KEY_Q         KeyCode = 0x51
	KEY_R         KeyCode = 0x52
	KEY_S         KeyCode = 0x53
	KEY_T         KeyCode = 0x54
	KEY_W         KeyCode = 0x57
	KEY_F5        KeyCode = 0x74
	KEYS_MAX_KEYS KeyCode = 0xFF
)

// Keyboard state structure
type KeyboardState struct {
	Keys [256]bool
}

// Input holds current and previous keyboard states. It is only touched from the main thread.
type Input struct {
	current  KeyboardState
	previous KeyboardState
	bus      *EventBus
}

func NewInput(bus *EventBus) *Input {
	return &Input{bus: bus}
}

// Update copies the current state into the previous one. Call once per frame.
func (in *Input) Update() {
	in.previous = in.current
}

func (in *Input) IsKeyDown(key KeyCode) bool {
	return in.current.Keys[key]
}

func (in *Input) WasKeyDown(key KeyCode) bool {
	return in.previous.Keys[key]
}

// Pressed reports a key that went down this frame.
func (in *Input) Pressed(key KeyCode) bool {
	return in.current.Keys[key] && !in.previous.Keys[key]
}

// ProcessKey records a key transition and fires the matching event.
func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	if in.current.Keys[key] == pressed {
		return
	}
	in.current.Keys[key] = pressed

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	if in.bus != nil {
		var ctx EventContext
		ctx.Data.U32[0] = uint32(key)
		in.bus.Fire(code, in, ctx)
	}
}
